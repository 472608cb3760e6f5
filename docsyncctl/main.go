package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/bringyour/docsync/docsync"
	"github.com/bringyour/docsync/docsync/dom"
)

const DocsyncCtlVersion = "0.0.1"

var Out = docsync.LogFn(docsync.LogLevelUrgent, "docsyncctl")

func main() {
	usage := `Document sync control.

Usage:
    docsyncctl connect --bootstrap=<path>
        [--jwt=<jwt>]
        [--storage_dir=<dir>]
        [--print_interval=<seconds>]
    docsyncctl decode [--tasks] [<hex>]
    docsyncctl encode-subtree <markup>
    docsyncctl new-id

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --bootstrap=<path>          Bootstrap toml.
    --jwt=<jwt>                 Bootstrap jwt, overlays the toml values.
    --storage_dir=<dir>         Share token storage with other processes through this directory.
    --print_interval=<seconds>  Print the document on this interval [default: 5].
    --tasks                     Name task codes with the default task values.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], DocsyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if connect_, _ := opts.Bool("connect"); connect_ {
		connect(opts)
	} else if decode_, _ := opts.Bool("decode"); decode_ {
		decode(opts)
	} else if encodeSubtree_, _ := opts.Bool("encode-subtree"); encodeSubtree_ {
		encodeSubtree(opts)
	} else if newId_, _ := opts.Bool("new-id"); newId_ {
		newId(opts)
	}
}

func connect(opts docopt.Opts) {
	bootstrapPath, _ := opts.String("--bootstrap")
	bootstrap, err := docsync.LoadBootstrap(bootstrapPath)
	if err != nil {
		Out("%s", err)
		os.Exit(1)
	}
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		bootstrapJwt, err := docsync.ParseBootstrapJwtUnverified(jwt)
		if err != nil {
			Out("Invalid jwt (%s).", err)
			os.Exit(1)
		}
		bootstrapJwt.Apply(bootstrap)
	}
	if bootstrap.WsUrl == "" {
		Out("The bootstrap has no ws_url.")
		os.Exit(1)
	}

	printInterval := 5 * time.Second
	if printIntervalStr, err := opts.String("--print_interval"); err == nil {
		seconds, err := strconv.ParseFloat(printIntervalStr, 64)
		if err != nil || seconds <= 0 {
			Out("Invalid print interval (%s).", printIntervalStr)
			os.Exit(1)
		}
		printInterval = time.Duration(seconds * float64(time.Second))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collaborators := &docsync.SessionCollaborators{}
	if storageDir, err := opts.String("--storage_dir"); err == nil && storageDir != "" {
		storage, err := docsync.NewDirStorageWithDefaults(ctx, storageDir)
		if err != nil {
			Out("Could not open storage (%s).", err)
			os.Exit(1)
		}
		defer storage.Close()
		collaborators.Storage = storage
	}

	session, err := docsync.NewSessionWithDefaults(ctx, bootstrap, nil, collaborators)
	if err != nil {
		Out("%s", err)
		os.Exit(1)
	}
	defer session.Close()

	session.OnPayloadLoss(func() {
		Out("Payload loss detected.")
	})
	uriOut := docsync.SubLogFn(docsync.LogLevelInfo, Out, "uri")
	session.Navigator().OnSetUri(func(event *docsync.UriEvent) {
		uriOut("%s -> %s (%s)", event.UriBefore, event.UriAfter, event.Origin)
	})

	if err := session.Start(); err != nil {
		Out("%s", err)
		os.Exit(1)
	}

	Out("instance %s connecting to %s", bootstrap.InstanceId, bootstrap.WsUrl)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(printInterval):
		}
		session.WithTree(func(document *dom.Node) {
			Out("[%s] %s", session.Channel().State(), dom.InnerHtml(document))
		})
	}
}

func decode(opts docopt.Opts) {
	var hexStr string
	if h, err := opts.String("<hex>"); err == nil && h != "" {
		hexStr = h
	} else {
		b, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			Out("%s", err)
			os.Exit(1)
		}
		hexStr = string(b)
	}
	message, err := hex.DecodeString(strings.Join(strings.Fields(hexStr), ""))
	if err != nil {
		Out("Invalid hex (%s).", err)
		os.Exit(1)
	}
	tasks, _ := opts.Bool("--tasks")
	var taskValues *docsync.TaskValues
	if tasks {
		taskValues = docsync.DefaultTaskValues()
	}

	indent := ""
	if term.IsTerminal(int(os.Stdout.Fd())) {
		indent = "    "
	}
	if err := printMessage(os.Stdout, message, taskValues, indent, 0); err != nil {
		Out("%s", err)
		os.Exit(1)
	}
}

func printMessage(w io.Writer, message []byte, taskValues *docsync.TaskValues, indent string, depth int) error {
	nameValues, err := docsync.DecodeMessage(message)
	if err != nil {
		return err
	}
	prefix := strings.Repeat(indent, depth)
	for i, nameValue := range nameValues {
		fmt.Fprintf(w, "%s%d name=%s\n", prefix, i, displayBytes(nameValue.Name))
		for j, value := range nameValue.Values {
			label := displayBytes(value)
			if taskValues != nil && i == 0 && j == 0 && len(value) == 1 {
				label = fmt.Sprintf("%s (%s)", label, taskValues.Code(value[0]))
			}
			fmt.Fprintf(w, "%s  %d %s\n", prefix, j, label)
			if taskValues != nil && i == 0 && 1 == len(nameValue.Name) && taskValues.Code(nameValue.Name[0]) == docsync.TaskOfTasks {
				printMessage(w, value, taskValues, indent, depth+1)
			}
		}
	}
	return nil
}

func displayBytes(b []byte) string {
	for _, c := range b {
		if c < 0x20 || 0x7e < c {
			return "0x" + hex.EncodeToString(b)
		}
	}
	return strconv.Quote(string(b))
}

func encodeSubtree(opts docopt.Opts) {
	markup, _ := opts.String("<markup>")
	fragment, err := dom.ParseFragment(markup)
	if err != nil {
		Out("%s", err)
		os.Exit(1)
	}
	symbols := docsync.DefaultSymbols()
	for _, c := range fragment.Children() {
		fmt.Println(hex.EncodeToString(docsync.EncodeSubtree(symbols, c)))
	}
}

func newId(opts docopt.Opts) {
	fmt.Println(docsync.NewId().String())
}
