// Command webserver runs the multi-reactor static-file server.
//
//	webserver -t 8 -p 8080 -l /var/log/webserver.log
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/linya/webserver"
	"github.com/linya/webserver/internal/logging"
)

const defaultLogPath = "./WebServer.log"

// fileConfig mirrors the command-line flags for -c; explicit flags win.
type fileConfig struct {
	Threads int    `toml:"threads"`
	Port    int    `toml:"port"`
	Log     string `toml:"log"`
}

func main() {
	threadNum := flag.Int("t", 4, "worker reactor count")
	port := flag.Int("p", 80, "listen port")
	logPath := flag.String("l", defaultLogPath, "log file path, must start with /")
	confPath := flag.String("c", "", "optional TOML config file")
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *confPath != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(*confPath, &fc); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		if !set["t"] && fc.Threads > 0 {
			*threadNum = fc.Threads
		}
		if !set["p"] && fc.Port > 0 {
			*port = fc.Port
		}
		if !set["l"] && fc.Log != "" {
			*logPath = fc.Log
			set["l"] = true
		}
	}
	if (set["l"] || *logPath != defaultLogPath) && (len(*logPath) < 2 || (*logPath)[0] != '/') {
		fmt.Fprintln(os.Stderr, `logPath should start with "/"`)
		os.Exit(1)
	}
	logging.Init(*logPath)

	srv, err := webserver.NewServer(
		webserver.WithNumLoops(*threadNum),
		webserver.WithPort(*port),
		webserver.WithSignalHandling(true),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webserver: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "webserver: %v\n", err)
		os.Exit(1)
	}
}
