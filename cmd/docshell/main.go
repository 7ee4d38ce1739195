// Command docshell is an interactive shell over a docstore database file,
// for poking at a store during development without writing Go.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"

	"github.com/tembocs/docstore"
)

func main() {
	path := flag.String("db", "docstore.db", "path to the database file")
	collection := flag.String("collection", "default", "collection name used when creating a new file")
	pageSize := flag.Uint("page-size", 4096, "page size for a newly created file")
	flag.Parse()

	cfg := docstore.DefaultConfig()
	cfg.Collection = *collection
	cfg.PageSize = uint32(*pageSize)

	store, err := docstore.Open(*path, cfg)
	if err != nil {
		log.Fatal("open: ", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Println("close:", err)
		}
	}()

	rl, err := readline.New("docstore> ")
	if err != nil {
		log.Fatal("readline: ", err)
	}
	defer rl.Close()

	shell := &shell{store: store, out: os.Stdout}

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := shell.dispatch(line); err != nil {
			fmt.Fprintln(shell.out, "error:", err)
		}
	}
}

type shell struct {
	store *docstore.Storage
	txn   *docstore.Transaction
	out   *os.File
}

func (s *shell) dispatch(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "put":
		return s.put(args)
	case "get":
		return s.get(args)
	case "del", "delete":
		return s.del(args)
	case "dump":
		return s.dump()
	case "stat":
		return s.stat()
	case "begin":
		return s.begin()
	case "commit":
		return s.commit()
	case "rollback":
		return s.rollback()
	default:
		return fmt.Errorf("unknown command %q (try put/get/del/dump/stat/begin/commit/rollback)", cmd)
	}
}

func (s *shell) put(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: put <id> <value>")
	}
	id, raw := args[0], strings.Join(args[1:], " ")
	v := parseValue(raw)

	if s.txn != nil {
		return s.txn.Upsert(id, v)
	}
	return s.store.Upsert(id, v)
}

func (s *shell) get(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <id>")
	}
	v, err := s.store.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, formatValue(v))
	return nil
}

func (s *shell) del(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: del <id>")
	}
	if s.txn != nil {
		return s.txn.Delete(args[0])
	}
	return s.store.Delete(args[0])
}

func (s *shell) dump() error {
	all, err := s.store.GetAll()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"id", "kind", "value"})
	for id, v := range all {
		table.Append([]string{id, kindName(v.Kind), formatValue(v)})
	}
	table.Render()
	return nil
}

func (s *shell) stat() error {
	count, err := s.store.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "entities: %d\ntransactions: %v\n", count, s.store.SupportsTransactions())
	return nil
}

func (s *shell) begin() error {
	if s.txn != nil {
		return errors.New("a transaction is already open")
	}
	tx, err := s.store.Begin()
	if err != nil {
		return err
	}
	s.txn = tx
	return nil
}

func (s *shell) commit() error {
	if s.txn == nil {
		return errors.New("no open transaction")
	}
	err := s.txn.Commit()
	s.txn = nil
	return err
}

func (s *shell) rollback() error {
	if s.txn == nil {
		return errors.New("no open transaction")
	}
	err := s.txn.Rollback()
	s.txn = nil
	return err
}

// parseValue interprets a shell argument as the most specific Value kind
// it parses as: int, then float, then bool, falling back to string. There
// is no surrounding query language here, just a convenience for poking at
// a store by hand.
func parseValue(raw string) docstore.Value {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return docstore.Int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return docstore.Float(f)
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return docstore.Bool(b)
	}
	return docstore.String(raw)
}

func formatValue(v docstore.Value) string {
	switch v.Kind {
	case docstore.KindNull:
		return "null"
	case docstore.KindBool:
		return strconv.FormatBool(v.Bool)
	case docstore.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case docstore.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case docstore.KindString:
		return v.Str
	case docstore.KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes))
	case docstore.KindTime:
		return v.Time.String()
	case docstore.KindList:
		return fmt.Sprintf("<list of %d>", len(v.List))
	case docstore.KindMap:
		return fmt.Sprintf("<map of %d>", len(v.Map))
	default:
		return "?"
	}
}

func kindName(k docstore.Kind) string {
	names := [...]string{"null", "bool", "int", "float", "string", "bytes", "time", "list", "map"}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}
