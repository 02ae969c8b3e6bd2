package slackbot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"gptqual/internal/analysis"
	"gptqual/internal/table"
)

const defaultMaxDownloadBytes = 20 << 20

// slackAPI is the subset of *slack.Client the bot calls.
type slackAPI interface {
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

// analyzer runs one analysis to completion.
type analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Outcome, error)
}

// Bot answers CSV file shares that carry an analyze command.
type Bot struct {
	api              slackAPI
	analyzer         analyzer
	maxDownloadBytes int64
	users            *userCache

	// one analysis per channel at a time
	mu     sync.Mutex
	active map[string]bool
}

func NewBot(api slackAPI, a analyzer, maxDownloadBytes int64) *Bot {
	if maxDownloadBytes <= 0 {
		maxDownloadBytes = defaultMaxDownloadBytes
	}
	return &Bot{
		api:              api,
		analyzer:         a,
		maxDownloadBytes: maxDownloadBytes,
		users:            newUserCache(),
		active:           make(map[string]bool),
	}
}

// StartSlackBot connects over Socket Mode and serves events until ctx ends.
func StartSlackBot(ctx context.Context, api *slack.Client, a analyzer, maxDownloadBytes int64) error {
	client := socketmode.New(api)
	bot := NewBot(api, a, maxDownloadBytes)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go bot.handleSlashCommand(ctx, cmd)
			case socketmode.EventTypeEventsAPI:
				client.Ack(*evt.Request)
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				go bot.handleEventsAPI(ctx, eventsAPIEvent)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	return client.RunContext(ctx)
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/gptqual":
		b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, helpText())
	}
}

func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		b.handleMessage(ctx, ev)
	}
}

// handleMessage runs an analysis when a message shares a CSV and starts with "analyze".
func (b *Bot) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.Message == nil {
		return
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}
	text := ev.Message.Text
	if !IsAnalyzeCommand(text) {
		return
	}
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}

	file, ok := pickCSV(ev.Message.Files)
	if !ok {
		b.reply(ctx, ev.Channel, threadTS, "Attach a CSV file to the `analyze` message.")
		return
	}
	cmd, err := ParseAnalyzeCommand(text)
	if err != nil {
		b.reply(ctx, ev.Channel, threadTS, fmt.Sprintf("Could not read the command: %v\n\n%s", err, helpText()))
		log.Printf("slack analyze parse error user=%s: %v", ev.User, err)
		return
	}
	if !b.claim(ev.Channel) {
		b.reply(ctx, ev.Channel, threadTS, "An analysis is already running in this channel. Try again when it finishes.")
		return
	}
	defer b.release(ev.Channel)

	b.runAnalysis(ctx, ev.Channel, threadTS, ev.User, file, cmd)
}

func (b *Bot) claim(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active[channel] {
		return false
	}
	b.active[channel] = true
	return true
}

func (b *Bot) release(channel string) {
	b.mu.Lock()
	delete(b.active, channel)
	b.mu.Unlock()
}

func (b *Bot) runAnalysis(ctx context.Context, channel, threadTS, userID string, file slack.File, cmd AnalyzeCommand) {
	tbl, err := b.download(ctx, file)
	if err != nil {
		b.reply(ctx, channel, threadTS, fmt.Sprintf("Could not read %s: %v", file.Name, err))
		log.Printf("slack analyze download error file=%s: %v", file.Name, err)
		return
	}

	progress := newProgressMessage(ctx, b.api, channel, threadTS,
		fmt.Sprintf("Analyzing `%s` of %s (%s)", cmd.Column, file.Name, cmd.Mode.Name()))

	outcome, err := b.analyzer.Analyze(ctx, analysis.Request{
		Source:       analysis.SourceSlack,
		Table:        tbl,
		Column:       cmd.Column,
		Mode:         cmd.Mode,
		OutputColumn: cmd.OutputColumn,
		Preview:      cmd.Preview,
		Progress:     progress.Update,
	})
	if err != nil {
		progress.Finish(fmt.Sprintf("Analysis failed: %v", err))
		log.Printf("slack analyze error file=%s column=%s: %v", file.Name, cmd.Column, err)
		return
	}
	progress.Finish(fmt.Sprintf("Analysis finished. %s", analysis.SummaryLine(outcome.Summary)))

	var csvBuf bytes.Buffer
	if err := outcome.Table.WriteCSV(&csvBuf); err != nil {
		b.reply(ctx, channel, threadTS, fmt.Sprintf("Could not render the result: %v", err))
		return
	}
	comment := fmt.Sprintf("Mode: %s, column: %s, output: %s", outcome.Mode, outcome.Column, outcome.OutputColumn)
	if outcome.Preview {
		comment += " (preview)"
	}
	if name := b.users.displayName(ctx, b.api, userID); name != "" {
		comment += fmt.Sprintf(", requested by %s", name)
	}
	if len(outcome.Categories) > 0 {
		comment += "\n*Categories*\n```" + analysis.CategoryLines(outcome.Categories) + "```"
	}

	_, err = b.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:          &csvBuf,
		FileSize:        csvBuf.Len(),
		Filename:        table.DefaultExportName,
		Title:           table.DefaultExportName,
		InitialComment:  comment,
		Channel:         channel,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		log.Printf("Error uploading analyzed file: %v", err)
		b.reply(ctx, channel, threadTS, "Error uploading the result file to the channel. Check bot permissions.")
		return
	}
	log.Printf("slack analyze done channel=%s run=%s rows=%d", channel, outcome.RunID, outcome.Summary.Rows)
}

// pickCSV returns the first shared file that looks like delimited text.
func pickCSV(files []slack.File) (slack.File, bool) {
	for _, f := range files {
		ft := strings.ToLower(f.Filetype)
		if ft == "csv" || strings.EqualFold(path.Ext(f.Name), ".csv") || strings.HasPrefix(f.Mimetype, "text/csv") {
			return f, true
		}
	}
	return slack.File{}, false
}

var errFileTooLarge = errors.New("file is too large")

func (b *Bot) download(ctx context.Context, f slack.File) (*table.Table, error) {
	if int64(f.Size) > b.maxDownloadBytes {
		return nil, fmt.Errorf("%w (%d bytes, limit %d)", errFileTooLarge, f.Size, b.maxDownloadBytes)
	}
	url := f.URLPrivateDownload
	if url == "" {
		url = f.URLPrivate
	}
	var buf bytes.Buffer
	if err := b.api.GetFileContext(ctx, url, &limitedWriter{w: &buf, remaining: b.maxDownloadBytes}); err != nil {
		return nil, err
	}
	return table.ReadCSV(&buf)
}

type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, errFileTooLarge
	}
	l.remaining -= int64(len(p))
	return l.w.Write(p)
}

func (b *Bot) reply(ctx context.Context, channel, threadTS, text string) {
	_, _, err := b.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Error posting reply channel=%s: %v", channel, err)
	}
}

func (b *Bot) postEphemeral(ctx context.Context, channel, user, text string) {
	if _, err := b.api.PostEphemeralContext(ctx, channel, user, slack.MsgOptionText(text, false)); err != nil {
		log.Printf("Error posting ephemeral: %v", err)
	}
}
