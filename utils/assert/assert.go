package assert

import (
	"fmt"
	"os"
	"runtime"
)

func perror(name, loc string) {
	fmt.Fprintf(os.Stderr, "%s failed at %s\n", name, loc)
}

func OK(err error) {
	if err != nil {
		_, fn, line, _ := runtime.Caller(1)
		loc := fmt.Sprintf("%s:%d: %v", fn, line, err)
		perror(`assertOK`, loc)
		os.Exit(1)
	}
}

func True(ok bool) {
	if !ok {
		_, fn, line, _ := runtime.Caller(1)
		loc := fmt.Sprintf("%s:%d", fn, line)
		perror(`assertTrue`, loc)
		os.Exit(1)
	}
}
