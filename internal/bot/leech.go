package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/task"
	"medialeech/internal/usecase"
)

const leechUsage = "Usage: reply to the first file with\n" +
	"/leech -i COUNT -m NAME [-vt|-va|-aa|-vs|-cv|-wv|-tv|-cut|-rv|-ev] [-start HH:MM:SS] [-end HH:MM:SS]"

// leechArgs is the parsed flag set of the /leech command line.
type leechArgs struct {
	Count int
	Name  string
	Tool  domain.ToolTag
	Start string
	End   string
}

var toolFlags = map[string]domain.ToolTag{}

func init() {
	for _, tag := range domain.AllTools {
		toolFlags["-"+string(tag)] = tag
	}
}

// parseLeechArgs parses "-i 3 -m out.mp4 -vt -start 00:00:20". Unknown
// flags are errors so typos fail loudly.
func parseLeechArgs(raw string) (leechArgs, error) {
	args := leechArgs{Count: 1}
	fields := strings.Fields(raw)
	for i := 0; i < len(fields); i++ {
		flag := fields[i]
		if tag, ok := toolFlags[flag]; ok {
			args.Tool = tag
			continue
		}
		value := func() string {
			if i+1 < len(fields) {
				i++
				return fields[i]
			}
			return ""
		}
		switch flag {
		case "-i":
			n, err := strconv.Atoi(value())
			if err != nil || n < 1 || n > 50 {
				return args, fmt.Errorf("-i needs a count between 1 and 50")
			}
			args.Count = n
		case "-m":
			args.Name = value()
		case "-start":
			args.Start = value()
			if !usecase.ValidTimestamp(args.Start) {
				return args, fmt.Errorf("-start needs HH:MM:SS")
			}
		case "-end":
			args.End = value()
			if !usecase.ValidTimestamp(args.End) {
				return args, fmt.Errorf("-end needs HH:MM:SS")
			}
		default:
			return args, fmt.Errorf("unknown flag %s", flag)
		}
	}
	if args.Name == "" {
		return args, fmt.Errorf("-m NAME is required")
	}
	return args, nil
}

func (r *Router) handleLeech(ctx context.Context, msg ports.Message, raw string) {
	if msg.ReplyTo == 0 {
		r.reply(ctx, msg, leechUsage)
		return
	}
	args, err := parseLeechArgs(raw)
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("%v\n\n%s", err, leechUsage))
		return
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:           domain.KindLeech,
		Owner:          msg.AuthorID,
		Chat:           msg.Ref.ChatID,
		OutputName:     args.Name,
		RequestedCount: args.Count,
		TasksRoot:      r.Cfg.TasksRoot,
	})
	go r.Pipeline.RunLeech(ctx, t, msg.ReplyTo, usecase.ConfigParams{
		Tool:  args.Tool,
		Start: args.Start,
		End:   args.End,
	})
}

// handleVT is the single-file variant: reply to one file, pick a tool from
// the menu.
func (r *Router) handleVT(ctx context.Context, msg ports.Message) {
	if msg.ReplyTo == 0 {
		r.reply(ctx, msg, "Reply to a media file with /vt.")
		return
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:           domain.KindVideoTool,
		Owner:          msg.AuthorID,
		Chat:           msg.Ref.ChatID,
		OutputName:     "output.mp4",
		RequestedCount: 1,
		TasksRoot:      r.Cfg.TasksRoot,
	})
	go r.Pipeline.RunLeech(ctx, t, msg.ReplyTo, usecase.ConfigParams{})
}
