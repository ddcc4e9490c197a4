// The mailctl command is a command-line tool for exercising a mailcore
// store directly: creating mailboxes, importing messages, and running
// get/query/changes calls against it without a JMAP or IMAP front end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.inkwell.dev/mailcore"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/config"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mlog"
	"go.inkwell.dev/mailcore/mutate"
	"go.inkwell.dev/mailcore/orm"
	"go.inkwell.dev/mailcore/query"
	"go.inkwell.dev/mailcore/spilldb/db"
)

var store *mailcore.Store

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-dbdir path] [command]\nRun '%s help' for details.\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flagDBDir := flag.String("dbdir", "", "mailcore database directory")
	flagAccountDB := flag.String("accountdb", "", "spilldb account database path, required for the account subcommand")
	flagVerbose := flag.Bool("verbose", false, "verbose logging")
	flag.Parse()

	if len(flag.Args()) == 0 {
		flag.Usage()
		exit(2)
	}

	cfg := config.Default()
	if *flagDBDir != "" {
		cfg.DBPath = *flagDBDir
	}
	if *flagAccountDB != "" {
		cfg.AccountDBPath = *flagAccountDB
	}
	logf := mlog.Discard
	if *flagVerbose {
		logf = func(format string, v ...interface{}) { fmt.Fprintf(os.Stderr, format+"\n", v...) }
	}

	var err error
	store, err = mailcore.Open(cfg, logf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		exit(2)
	}

	switch flag.Arg(0) {
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\nRun '%s help' for details.\n", os.Args[0], flag.Arg(0), os.Args[0])
		exit(1)
	case "help":
		flag.Usage()
	case "mailbox":
		err = cmdMailbox(flag.Args()[1:])
	case "import":
		err = cmdImport(flag.Args()[1:])
	case "get":
		err = cmdGet(flag.Args()[1:])
	case "query":
		err = cmdQuery(flag.Args()[1:])
	case "changes":
		err = cmdChanges(flag.Args()[1:])
	case "html":
		err = cmdHTML(flag.Args()[1:])
	case "account":
		err = cmdAccount(flag.Args()[1:])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", os.Args[0], flag.Arg(0), err)
		exit(1)
	}
	exit(0)
}

// cmdMailbox handles "mailbox create <account> <name> [parentId]" and
// "mailbox list <account>".
func cmdMailbox(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mailbox create|list ...")
	}
	switch args[0] {
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("usage: mailbox create <account> <name> [parentId]")
		}
		account, err := parseAccount(args[1])
		if err != nil {
			return err
		}
		patch := orm.New()
		patch.Set(orm.PropMailboxName, orm.NewText(args[2]), orm.TagSet{})
		if len(args) > 3 {
			parentID, err := strconv.ParseUint(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("parentId: %w", err)
			}
			patch.Set(orm.PropMailboxParentID, orm.NewID(parentID), orm.TagSet{})
		}

		resp, err := store.Set(mutate.Request{
			Account:    account,
			Collection: collection.Mailbox,
			Create:     []mutate.CreateItem{{ClientID: "c", Patch: patch}},
		})
		if err != nil {
			return err
		}
		if ie, ok := resp.NotCreated["c"]; ok {
			return fmt.Errorf("%s: %s", ie.Kind, ie.Reason)
		}
		fmt.Printf("created mailbox %d\n", resp.Created["c"])
		return nil

	case "list":
		if len(args) < 2 {
			return fmt.Errorf("usage: mailbox list <account>")
		}
		account, err := parseAccount(args[1])
		if err != nil {
			return err
		}
		res, err := store.Query(query.Query{Account: account, Collection: collection.Mailbox})
		if err != nil {
			return err
		}
		for _, id := range res.IDs {
			doc, err := store.Get(account, collection.Mailbox, id)
			if err != nil {
				return err
			}
			name := doc.Get(orm.PropMailboxName).Text
			fmt.Printf("%d\t%s\n", id, name)
		}
		return nil

	default:
		return fmt.Errorf("unknown mailbox command %q", args[0])
	}
}

// cmdImport handles "import <account> <mailboxId> <path>", reading the
// raw RFC 5322 message from path ("-" for stdin).
func cmdImport(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: import <account> <mailboxId> <path>")
	}
	account, err := parseAccount(args[0])
	if err != nil {
		return err
	}
	mailboxID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("mailboxId: %w", err)
	}

	f := os.Stdin
	if args[2] != "-" {
		f, err = os.Open(args[2])
		if err != nil {
			return err
		}
		defer f.Close()
	}

	res, err := store.ImportMessage(f, mailcore.ImportOptions{
		Account:    account,
		MailboxIDs: []uint32{uint32(mailboxID)},
	})
	if err != nil {
		return err
	}
	fmt.Printf("imported doc=%d thread=%d externalId=%d\n", res.DocID, res.ThreadID, res.ExternalID)
	return nil
}

// cmdGet handles "get <account> <mail|mailbox> <docId>".
func cmdGet(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: get <account> <mail|mailbox> <docId>")
	}
	account, err := parseAccount(args[0])
	if err != nil {
		return err
	}
	coll, err := parseCollection(args[1])
	if err != nil {
		return err
	}
	docID, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("docId: %w", err)
	}

	doc, err := store.Get(account, coll, uint32(docID))
	if err != nil {
		return err
	}
	for prop, v := range doc.Properties {
		fmt.Printf("%s = %s\n", orm.Name(coll, prop), formatValue(v))
	}
	return nil
}

// cmdQuery handles "query <account> <mail|mailbox> [mailbox <mailboxId>]",
// a small slice of the filter language for ad hoc inspection.
func cmdQuery(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: query <account> <mail|mailbox> [mailbox <mailboxId>]")
	}
	account, err := parseAccount(args[0])
	if err != nil {
		return err
	}
	coll, err := parseCollection(args[1])
	if err != nil {
		return err
	}

	q := query.Query{Account: account, Collection: coll, CalculateTotal: true}
	if len(args) >= 4 && args[2] == "mailbox" {
		mailboxID, err := strconv.ParseUint(args[3], 10, 32)
		if err != nil {
			return fmt.Errorf("mailboxId: %w", err)
		}
		q.Filter = query.InMailbox{MailboxID: uint32(mailboxID)}
	}
	if coll == collection.Mail {
		q.Sort = []query.Comparator{query.FieldComparator{Field: byte(index.FieldDateSort), Desc: true}}
	}

	res, err := store.Query(q)
	if err != nil {
		return err
	}
	fmt.Printf("total=%d\n", res.Total)
	for _, id := range res.IDs {
		fmt.Println(id)
	}
	return nil
}

// cmdChanges handles "changes <account> <mail|mailbox> <sinceState>".
func cmdChanges(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: changes <account> <mail|mailbox> <sinceState>")
	}
	account, err := parseAccount(args[0])
	if err != nil {
		return err
	}
	coll, err := parseCollection(args[1])
	if err != nil {
		return err
	}

	res, err := store.Changes(account, coll, args[2], 0)
	if err != nil {
		return err
	}
	fmt.Printf("oldState=%s newState=%s hasMoreChanges=%v\n", args[2], res.NewState, res.HasMoreChanges)
	for _, c := range res.Changes {
		fmt.Printf("%v externalId=%d\n", c.Kind, c.ExternalID)
	}
	return nil
}

func parseAccount(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}
	return uint32(v), nil
}

func parseCollection(s string) (collection.ID, error) {
	switch strings.ToLower(s) {
	case "mail":
		return collection.Mail, nil
	case "mailbox":
		return collection.Mailbox, nil
	default:
		return 0, fmt.Errorf("unknown collection %q (want mail or mailbox)", s)
	}
}

func formatValue(v orm.Value) string {
	switch v.Kind {
	case orm.KindText:
		return v.Text
	case orm.KindID:
		return strconv.FormatUint(v.ID, 10)
	case orm.KindSize:
		return strconv.FormatInt(v.Size, 10)
	case orm.KindBool:
		return strconv.FormatBool(v.Bool)
	case orm.KindDate:
		return v.Date.Format(time.RFC3339)
	case orm.KindBlob:
		return v.Blob
	case orm.KindKeywords:
		var ks []string
		for k := range v.Keywords {
			ks = append(ks, k)
		}
		return strings.Join(ks, ",")
	case orm.KindMailboxIDs:
		var ids []string
		for id := range v.MailboxIDs {
			ids = append(ids, strconv.FormatUint(uint64(id), 10))
		}
		return strings.Join(ids, ",")
	case orm.KindAddresses:
		var addrs []string
		for _, a := range v.Addresses {
			addrs = append(addrs, a.Addr)
		}
		return strings.Join(addrs, ", ")
	default:
		return fmt.Sprintf("<%v>", v.Kind)
	}
}

// cmdHTML handles "html <account> <docId>", printing the message's
// first text/html part run through the html/htmlsafe sanitizer.
func cmdHTML(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: html <account> <docId>")
	}
	account, err := parseAccount(args[0])
	if err != nil {
		return err
	}
	docID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("docId: %w", err)
	}
	safe, ok, err := store.SanitizedHTMLBody(account, uint32(docID))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("(no text/html body part)")
		return nil
	}
	fmt.Println(safe)
	return nil
}

// cmdAccount handles "account create <fullName> <email> <password>",
// "account add-device <userId> <deviceName> <appPassword>", and
// "account auth <email> <appPassword>", exercising the spilldb/db
// account store wired in via -accountdb.
func cmdAccount(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: account create|add-device|auth ...")
	}
	switch args[0] {
	case "create":
		if len(args) < 4 {
			return fmt.Errorf("usage: account create <fullName> <email> <password>")
		}
		details := db.UserDetails{FullName: args[1], EmailAddr: args[2], Password: args[3]}
		userID, err := store.CreateAccount(details, args[2])
		if err != nil {
			return err
		}
		fmt.Printf("userId=%d\n", userID)
		return nil
	case "add-device":
		if len(args) < 4 {
			return fmt.Errorf("usage: account add-device <userId> <deviceName> <appPassword>")
		}
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("userId: %w", err)
		}
		deviceID, err := store.AddDevice(userID, args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Printf("deviceId=%d\n", deviceID)
		return nil
	case "auth":
		if len(args) < 3 {
			return fmt.Errorf("usage: account auth <email> <appPassword>")
		}
		userID, err := store.AuthenticateDevice(context.Background(), "cli", args[1], []byte(args[2]))
		if err != nil {
			return err
		}
		fmt.Printf("userId=%d\n", userID)
		return nil
	default:
		return fmt.Errorf("unknown account subcommand %q", args[0])
	}
}

// exit flushes the store before terminating with code.
func exit(code int) {
	if store != nil {
		_ = store.Close()
	}
	os.Exit(code)
}
