package crossrt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// askForConfirmation prompts on stdout and reads the answer from in.
// An empty answer means yes; EOF means no. Pass the same *bufio.Reader
// across calls so buffered answers are not lost.
func askForConfirmation(in io.Reader, p colorPrinter, format string, a ...any) bool {
	reader := bufio.NewReader(in)
	prompt := fmt.Sprintf("%s [Y/n]: ", fmt.Sprintf(format, a...))

	for {
		cPrintf(p, "%s", prompt)
		response, err := reader.ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))
		if err != nil && response == "" {
			return false
		}

		switch response {
		case "", "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return false
		}
		cPrintln(colWarn, "Invalid input.")
	}
}
