// s7cli is a diagnostic command line for exercising a live S7 PLC:
// read/write single values, discover devices on a subnet, and watch a
// set of trigger bits for edges.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"warlink/config"
	"warlink/logging"
	mqttsink "warlink/mqtt"
	"warlink/s7"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	args, logDebug := extractLogDebugFlag(os.Args[1:])
	if logDebug != "" {
		dbg, err := logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open debug log: %v\n", err)
		} else {
			filter := logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			dbg.SetFilter(filter)
			logging.SetGlobalDebugLogger(dbg)
			defer dbg.Close()
		}
	}

	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "read":
		runRead(args[1:])
	case "write":
		runWrite(args[1:])
	case "discover":
		runDiscover(args[1:])
	case "watch":
		runWatch(args[1:])
	case "version", "-version", "--version":
		fmt.Println("s7cli", Version)
	default:
		usage()
		os.Exit(2)
	}
}

// extractLogDebugFlag pulls "-log-debug[=filter]" out of args so the
// per-subcommand flag.FlagSets never see it. Bare "-log-debug" (no
// value) enables logging for all protocols, matching the convention
// that an omitted filter means "log everything".
func extractLogDebugFlag(args []string) ([]string, string) {
	out := make([]string, 0, len(args))
	filter := ""
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-log-debug" || a == "--log-debug":
			filter = "all"
		case strings.HasPrefix(a, "-log-debug="):
			filter = strings.TrimPrefix(a, "-log-debug=")
		case strings.HasPrefix(a, "--log-debug="):
			filter = strings.TrimPrefix(a, "--log-debug=")
		default:
			out = append(out, a)
		}
	}
	return out, filter
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: s7cli [-log-debug[=filter]] <read|write|discover|watch> [flags]")
}

func familyFromString(s string) s7.Family {
	switch strings.ToLower(s) {
	case "s7-200", "s7200":
		return s7.FamilyS7200
	case "s7-400", "s7400":
		return s7.FamilyS7400
	case "s7-1500", "s71500":
		return s7.FamilyS71500
	case "s7-1200", "s71200":
		return s7.FamilyS71200
	default:
		return s7.FamilyS7300
	}
}

func runRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	addr := fs.String("addr", "", "PLC address (host or host:port)")
	family := fs.String("family", "s7-1200", "PLC family")
	db := fs.Int("db", 1, "data block number")
	start := fs.Int("start", 0, "byte offset")
	length := fs.Int("length", 4, "byte count")
	fs.Parse(args)

	if *addr == "" {
		fmt.Fprintln(os.Stderr, "read: -addr is required")
		os.Exit(2)
	}

	sess, err := s7.Open(*addr, familyFromString(*family))
	if err != nil {
		fatal("connect", err)
	}
	defer sess.Disconnect()

	data, err := sess.DBRead(*db, *start, *length)
	if err != nil {
		fatal("read", err)
	}
	fmt.Println(hex.EncodeToString(data))
}

func runWrite(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	addr := fs.String("addr", "", "PLC address (host or host:port)")
	family := fs.String("family", "s7-1200", "PLC family")
	db := fs.Int("db", 1, "data block number")
	start := fs.Int("start", 0, "byte offset")
	hexData := fs.String("data", "", "hex-encoded bytes to write")
	fs.Parse(args)

	if *addr == "" || *hexData == "" {
		fmt.Fprintln(os.Stderr, "write: -addr and -data are required")
		os.Exit(2)
	}
	data, err := hex.DecodeString(*hexData)
	if err != nil {
		fatal("decode -data", err)
	}

	sess, err := s7.Open(*addr, familyFromString(*family))
	if err != nil {
		fatal("connect", err)
	}
	defer sess.Disconnect()

	if err := sess.DBWrite(*db, *start, data); err != nil {
		fatal("write", err)
	}
	fmt.Println("ok")
}

func runDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	cidr := fs.String("cidr", "", "subnet to scan, e.g. 192.168.1.0/24")
	timeout := fs.Duration("timeout", 500*time.Millisecond, "per-host probe timeout")
	concurrency := fs.Int("concurrency", 20, "parallel probes")
	fs.Parse(args)

	if *cidr == "" {
		fmt.Fprintln(os.Stderr, "discover: -cidr is required")
		os.Exit(2)
	}

	devices, err := s7.DiscoverSubnet(*cidr, *timeout, *concurrency)
	if err != nil {
		fatal("discover", err)
	}
	for _, d := range devices {
		fmt.Printf("%s:%d family=%s rack=%d slot=%d pdu=%d\n", d.IP, d.Port, d.Family, d.Rack, d.Slot, d.PDULength)
	}
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to endpoint/trigger YAML config")
	endpointName := fs.String("endpoint", "", "endpoint name to watch")
	interval := fs.Duration("interval", time.Second, "poll interval")
	broker := fs.String("mqtt-broker", "", "optional MQTT broker host for edge publishing")
	brokerPort := fs.Int("mqtt-port", 1883, "MQTT broker port")
	fs.Parse(args)

	if *configPath == "" || *endpointName == "" {
		fmt.Fprintln(os.Stderr, "watch: -config and -endpoint are required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	ep, ok := cfg.Endpoint(*endpointName)
	if !ok {
		fatal("watch", fmt.Errorf("unknown endpoint %q", *endpointName))
	}

	pool := s7.NewPool(ep.Address, familyFromString(ep.Family))
	if ep.PoolSize > 0 {
		pool.WithCapacity(ep.PoolSize)
	}

	var triggers []s7.Trigger
	for _, tc := range cfg.Triggers {
		if tc.Endpoint != *endpointName {
			continue
		}
		triggers = append(triggers, s7.Trigger{
			ID:     tc.Name,
			Access: s7.BitAccess(s7.AreaDataBlock, tc.DB, tc.Byte, tc.Bit),
		})
	}
	if len(triggers) == 0 {
		fatal("watch", fmt.Errorf("no triggers configured for endpoint %q", *endpointName))
	}

	tc, err := s7.NewTriggerCollection(pool, triggers)
	if err != nil {
		fatal("watch", err)
	}

	if *broker != "" {
		pub := mqttsink.NewEdgePublisher(*broker, *brokerPort, mqttsink.Options{ClientID: "s7cli-" + strconv.Itoa(os.Getpid())})
		if err := pub.Start(); err != nil {
			fatal("mqtt connect", err)
		}
		defer pub.Stop()
		tc.WithSink(pub)
	}

	for {
		if err := tc.Update(); err != nil {
			fmt.Fprintln(os.Stderr, "update:", err)
			time.Sleep(*interval)
			continue
		}
		for _, t := range triggers {
			pos, _ := tc.PositiveFlank(t.ID)
			neg, _ := tc.NegativeFlank(t.ID)
			if pos {
				fmt.Printf("%s: positive flank\n", t.ID)
			}
			if neg {
				fmt.Printf("%s: negative flank\n", t.ID)
			}
		}
		time.Sleep(*interval)
	}
}

func fatal(context string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", context, err)
	os.Exit(1)
}
