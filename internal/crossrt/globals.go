package crossrt

import (
	"sync/atomic"

	"github.com/gookit/color"
)

// We use a value of 1 while files are being written into the system root.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	Debug      bool
	ConfigFile = "/etc/crossrt.conf"
	version    = "dev"     // default version; overridden at build time
	buildDate  = "unknown" // overridden at build time
	// Global executors (declared, to be assigned in Main)
	UserExec *Executor
	RootExec *Executor
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
