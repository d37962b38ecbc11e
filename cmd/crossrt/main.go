package main

import "crossrt/internal/crossrt"

func main() {
	crossrt.Main()
}
