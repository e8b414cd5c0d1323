package webserver

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	helperEnv     = "AUTHSTATE_WEBSERVER_HELPER"
	helperAddrEnv = "AUTHSTATE_WEBSERVER_HELPER_ADDR"
	helperPIDEnv  = "AUTHSTATE_WEBSERVER_HELPER_PIDFILE"
)

// runHelper turns the test binary into a fake dev server.
func runHelper() {
	if path := os.Getenv(helperPIDEnv); path != "" {
		_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
	}
	switch os.Getenv(helperEnv) {
	case "serve":
		_ = http.ListenAndServe(os.Getenv(helperAddrEnv), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "ok")
		}))
		os.Exit(1)
	case "exit":
		os.Exit(3)
	case "hang":
		time.Sleep(time.Hour)
	}
	os.Exit(0)
}

