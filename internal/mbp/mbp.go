// Package mbp ("main boilerplate") collects the small pieces of CLI and
// process wiring every godds command shares: a dial-able address config
// group, a logging config group, and the Must/MustParseArgs fatal-error
// helpers.
//
// Grounded on the go-flags/logrus conventions dwarri-gazette's
// examples/word-count/wordcountctl/main.go uses via its own
// mainboilerplate package; that package is part of the teacher module
// being rewritten here, so this is a from-scratch equivalent sized to what
// cmd/godds-reader actually needs rather than a full port.
package mbp

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// AddressConfig names a dialable endpoint, mirroring mainboilerplate's
// AddressConfig group.
type AddressConfig struct {
	Address string `long:"address" env:"ADDRESS" description:"Service address to dial or serve on"`
}

// MustDial dials c.Address, exiting the process on failure via Must.
func (c AddressConfig) MustDial() *grpc.ClientConn {
	var conn, err = grpc.Dial(c.Address, grpc.WithInsecure())
	Must(err, "failed to dial address", "address", c.Address)
	return conn
}

// LogConfig selects logrus's level and format, mirroring
// mainboilerplate's LogConfig group.
type LogConfig struct {
	Level  string `long:"level" env:"LOG_LEVEL" default:"info" description:"Logging level"`
	Format string `long:"format" env:"LOG_FORMAT" default:"text" description:"Logging format (text or json)"`
}

// Configure applies c to logrus's standard logger.
func (c LogConfig) Configure() {
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.WithField("level", c.Level).Warn("mbp: unrecognized log level, defaulting to info")
	}
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// Must logs a fatal message and exits the process if err is non-nil,
// matching mainboilerplate.Must's "fail loudly, fail once" convention for
// CLI-level errors that have no sensible recovery.
func Must(err error, message string, kv ...interface{}) {
	if err == nil {
		return
	}
	var fields = log.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
	}
	log.WithFields(fields).WithError(err).Fatal(message)
}

// MustParseArgs parses os.Args with parser, printing flags.ErrHelp output
// without treating it as fatal, and exiting on any other parse error.
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
