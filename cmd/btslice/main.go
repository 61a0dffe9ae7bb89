// btslice serves and inspects sliced B-tree stores.
//
// Usage:
//
//	btslice [flags] serve            # serve lookups over HTTP
//	btslice [flags] load <file>      # replace the store content with file
//	btslice [flags] get <key>        # fetch a key from a running server
//	btslice [flags] stat             # print the tree shape of every slice
//
// Settings come from .env, the BTSLICE_* variables and the flags, see
// -help. A load file holds one entry per line:
//
//	key<TAB>value[<TAB>flags[<TAB>exptime]]
//
// Lines need not be sorted; the last line of a repeated key wins.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice/btree"
	"github.com/dacapoday/btslice/internal/bootstrap"
	"github.com/dacapoday/btslice/internal/client"
	"github.com/dacapoday/btslice/internal/config"
	"github.com/dacapoday/btslice/internal/server"
	"github.com/dacapoday/btslice/internal/staging"
	"github.com/dacapoday/btslice/store"
)

func main() {
	cfg, args, err := config.Load(".env", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: btslice [flags] serve | load <file> | get <key> | stat")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd, args := args[0], args[1:]; {
	case cmd == "serve" && len(args) == 0:
		err = bootstrap.Invoke(cfg, func(srv *server.Server, st *store.Store) error {
			return errors.CombineErrors(srv.Run(ctx), st.Close())
		})
	case cmd == "load" && len(args) == 1:
		err = bootstrap.Invoke(cfg, func(st *store.Store, log *slog.Logger) error {
			return errors.CombineErrors(runLoad(st, log, args[0]), st.Close())
		})
	case cmd == "get" && len(args) == 1:
		err = bootstrap.Invoke(cfg, func(c *client.Client) error {
			return runGet(ctx, c, args[0])
		})
	case cmd == "stat" && len(args) == 0:
		err = bootstrap.Invoke(cfg, func(c *client.Client) error {
			return runStat(ctx, c)
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runLoad(st *store.Store, log *slog.Logger, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	batch, err := readEntries(f)
	if err != nil {
		return errors.Wrapf(err, "read %s", filename)
	}
	log.Info("loading", "file", filename, "entries", batch.Len())
	return st.Load(func(yield func(btree.Entry) bool) {
		for key, entry := range batch.Items {
			entry.Key = key
			if !yield(entry) {
				return
			}
		}
	})
}

func readEntries(r io.Reader) (*staging.Batch[btree.Entry], error) {
	var batch staging.Batch[btree.Entry]
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, btree.MaxValueSize+1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 || len(fields) > 4 {
			return nil, errors.Newf("line %d: want 2 to 4 fields, got %d", n, len(fields))
		}
		entry := btree.Entry{Val: []byte(fields[1])}
		if len(fields) > 2 {
			flags, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: flags", n)
			}
			entry.Flags = uint32(flags)
		}
		if len(fields) > 3 {
			exptime, err := strconv.ParseUint(fields[3], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: exptime", n)
			}
			entry.Exptime = uint32(exptime)
		}
		batch.Set([]byte(fields[0]), entry)
	}
	return &batch, scanner.Err()
}

func runGet(ctx context.Context, c *client.Client, key string) error {
	val, flags, found, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return errors.Newf("%q not found", key)
	}
	fmt.Printf("%s flags=%d size=%d\n", display(val, 60), flags, len(val))
	return nil
}

func runStat(ctx context.Context, c *client.Client) error {
	stats, err := c.Stat(ctx)
	if err != nil {
		return err
	}
	for i, stat := range stats {
		fmt.Printf("slice %03d: root=%d height=%d internal=%d leaves=%d entries=%d large=%d expired=%d bytes=%d\n",
			i, stat.Root, stat.Height, stat.Internal, stat.Leaves, stat.Entries, stat.Large, stat.Expired, stat.Bytes)
	}
	return nil
}

func display(b []byte, maxLen int) string {
	if len(b) == 0 {
		return "(empty)"
	}
	if utf8.Valid(b) && isPrintable(b) {
		runes := []rune(string(b))
		if len(runes) > maxLen-3 {
			return string(runes[:maxLen-3]) + "..."
		}
		return string(runes)
	}
	hex := fmt.Sprintf("%x", b)
	if len(hex) > maxLen-3 {
		return hex[:maxLen-3] + "..."
	}
	return hex
}

func isPrintable(b []byte) bool {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
