package rruntime

import (
	"github.com/wholesaling-data/leadsloader/utils/crash"
)

var GoRoutineFactory goRoutineFactory

type goRoutineFactory struct{}

func (goRoutineFactory) Go(function func()) {
	Go(function)
}

// Go starts function in a new goroutine. A panic inside the goroutine
// is routed through the configured crash handler before the process
// goes down.
func Go(function func()) {
	go func() {
		defer crash.Notify("Core")()
		function()
	}()
}
