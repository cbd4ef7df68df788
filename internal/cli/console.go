package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/scripthost/internal/host"
	"github.com/roach88/scripthost/internal/ir"
	"github.com/roach88/scripthost/internal/session"
)

const consoleHelp = `Commands:
  select <file> [-c]     select a script (-c copies the bundled default if missing)
  run                    run the selected script
  discard                discard the selected script
  current                show the selected script
  fire <category> [json] fire a host event with an optional JSON data object
  tick [n]               advance host time by n ticks (default 1)
  list                   list live scripts
  as <user> <command>    issue a command as a user instead of the console
  help                   show this help
  quit                   stop the host`

// EventSink accepts host events. *engine.Loop queues them; tests deliver
// them synchronously.
type EventSink interface {
	Fire(ev ir.Event) bool
	Tick(ticks int64) bool
}

// Console interprets operator commands against a host.
type Console struct {
	host   *host.Host
	events EventSink

	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a Console writing to out.
func NewConsole(h *host.Host, events EventSink, out io.Writer) *Console {
	return &Console{host: h, events: events, out: out}
}

// PrintOutput writes a script's console line. It is installed as the
// host's output sink and may be called from the event loop goroutine.
func (c *Console) PrintOutput(o host.Output) {
	prefix := ""
	if o.Level != "log" {
		prefix = strings.ToUpper(o.Level) + " "
	}
	c.printf("[%s] %s%s\n", o.ScriptID, prefix, o.Line)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Execute runs one command line. It returns false when the console should
// stop.
func (c *Console) Execute(ctx context.Context, line string) bool {
	p := session.Console()
	line = strings.TrimSpace(line)

	if rest, ok := strings.CutPrefix(line, "as "); ok {
		user, cmdline, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if user == "" || strings.TrimSpace(cmdline) == "" {
			c.printf("usage: as <user> <command>\n")
			return true
		}
		p = session.User(user)
		line = strings.TrimSpace(cmdline)
	}

	name, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	switch name {
	case "":
	case "select":
		c.selectScript(ctx, p, args)
	case "run":
		c.result(c.host.RunSelected(ctx, p))
	case "discard":
		c.result(c.host.DiscardSelected(ctx, p))
	case "current":
		c.result(c.host.CurrentSelection(p))
	case "fire":
		c.fire(args)
	case "tick":
		c.tick(args)
	case "list":
		c.list()
	case "help":
		c.printf("%s\n", consoleHelp)
	case "quit", "exit":
		return false
	default:
		c.printf("unknown command %q; type help\n", name)
	}
	return true
}

func (c *Console) result(res host.Result) {
	if res.Message != "" {
		c.printf("%s\n", res.Message)
	}
}

func (c *Console) selectScript(ctx context.Context, p session.Principal, args string) {
	fields := strings.Fields(args)
	fallback := false
	var file string
	for _, f := range fields {
		switch {
		case f == "-c":
			fallback = true
		case file == "":
			file = f
		default:
			c.printf("usage: select <file> [-c]\n")
			return
		}
	}
	if file == "" {
		c.printf("usage: select <file> [-c]\n")
		return
	}
	c.result(c.host.SelectScript(ctx, p, file, fallback))
}

func (c *Console) fire(args string) {
	category, raw, _ := strings.Cut(args, " ")
	if category == "" {
		c.printf("usage: fire <category> [json]\n")
		return
	}
	if !c.host.Registry().HasCategory(category) {
		c.printf("unknown category %q (known: %s)\n", category, strings.Join(c.host.Registry().Categories(), ", "))
		return
	}

	ev := ir.Event{Category: category}
	if raw = strings.TrimSpace(raw); raw != "" {
		data, err := ir.UnmarshalIRObject([]byte(raw))
		if err != nil {
			c.printf("invalid event data: %v\n", err)
			return
		}
		ev.Data = data
	}
	if !c.events.Fire(ev) {
		c.printf("host is stopping\n")
	}
}

func (c *Console) tick(args string) {
	n := int64(1)
	if args != "" {
		v, err := strconv.ParseInt(args, 10, 64)
		if err != nil || v < 1 {
			c.printf("usage: tick [n]\n")
			return
		}
		n = v
	}
	if !c.events.Tick(n) {
		c.printf("host is stopping\n")
	}
}

func (c *Console) list() {
	scripts := c.host.Scripts()
	if len(scripts) == 0 {
		c.printf("No scripts loaded.\n")
		return
	}
	for _, s := range scripts {
		state := "idle"
		if s.Running {
			state = "running"
		}
		cats := make([]string, len(s.Subscriptions))
		for i, sub := range s.Subscriptions {
			cats[i] = sub.Category
		}
		c.printf("%s\t%s\t%s\tcategories=%s\ttasks=%d\n",
			s.ID, s.File, state, strings.Join(cats, ","), s.PendingTasks)
	}
}
