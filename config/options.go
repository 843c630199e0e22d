package config

import (
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// Options are the command line flags. Unset flags leave the value from the
// environment or config file in place.
type Options struct {
	InDir      string   `short:"i" long:"in-dir" description:"input corpus directory"`
	OutDir     string   `short:"o" long:"out-dir" description:"output directory, must be empty or absent"`
	TraceDir   string   `long:"trace-dir" description:"directory for CBOR session traces"`
	Port       int      `short:"p" long:"port" description:"target TCP port"`
	Host       string   `long:"host" description:"target host"`
	Env        []string `short:"e" long:"env" description:"extra target environment (KEY=VALUE)"`
	DebugChild bool     `short:"d" long:"debug-child" description:"forward target stdout and stderr"`
	KillSignal string   `short:"s" long:"signal" description:"signal used to stop the target"`
	Loops      int      `short:"l" long:"loops" description:"iteration budget, 0 runs until stopped"`
	Timeout    int      `short:"t" long:"timeout" description:"per-execution timeout in milliseconds"`
	Awareness  string   `long:"awareness" description:"single-corpus, multi-corpus-single-map or multi-corpus-multi-map"`
	Scheduler  string   `long:"state-scheduler" description:"cycler, outgoing-edges, novelty-search or novelty+outgoing-edges"`
	SeedRule   string   `long:"seed-rule" description:"predecessor or seed-pool"`
	Dicts      []string `short:"x" long:"dict" description:"AFL dictionary file"`
	RandSeed   int64    `long:"seed" description:"PRNG seed, 0 is time based"`
	LogLevel   string   `long:"log-level" description:"debug, info, warn or error"`
	Follow     bool     `short:"f" long:"follow" description:"replayer: keep watching the input directory"`

	Args struct {
		Command []string `positional-arg-name:"target" description:"target command and its arguments"`
	} `positional-args:"yes"`

	raw []string
}

// ParseOptions parses args (without the program name).
func ParseOptions(args []string) (*Options, error) {
	opts := &Options{raw: args}
	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) apply(c *AppConfig) {
	c.CliOptions = strings.Join(o.raw, " ")
	if o.InDir != "" {
		c.InDir = o.InDir
	}
	if o.OutDir != "" {
		c.OutDir = o.OutDir
	}
	if o.TraceDir != "" {
		c.TraceDir = o.TraceDir
	}
	if o.Port != 0 {
		c.Target.Port = o.Port
	}
	if o.Host != "" {
		c.Target.Host = o.Host
	}
	if len(o.Env) > 0 {
		if c.Target.Env == nil {
			c.Target.Env = make(map[string]string)
		}
		for k, v := range parseEnvList(strings.Join(o.Env, ",")) {
			c.Target.Env[k] = v
		}
	}
	if o.DebugChild {
		c.Target.DebugChild = true
	}
	if o.KillSignal != "" {
		c.Target.KillSignal = parseSignal(o.KillSignal, c.Target.KillSignal)
	}
	if o.Loops != 0 {
		c.Fuzz.Loops = o.Loops
	}
	if o.Timeout != 0 {
		c.Fuzz.Timeout = time.Duration(o.Timeout) * time.Millisecond
	}
	if o.Awareness != "" {
		c.Fuzz.Awareness = o.Awareness
	}
	if o.Scheduler != "" {
		c.Fuzz.StateScheduler = o.Scheduler
	}
	if o.SeedRule != "" {
		c.Fuzz.SeedRule = o.SeedRule
	}
	if len(o.Dicts) > 0 {
		c.Fuzz.DictPaths = append(c.Fuzz.DictPaths, o.Dicts...)
	}
	if o.RandSeed != 0 {
		c.Fuzz.RandSeed = o.RandSeed
	}
	if o.Follow {
		c.Follow = true
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if len(o.Args.Command) > 0 {
		c.Target.Command = o.Args.Command
	}
}
