package slackbot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"
)

const progressBarWidth = 20

// progressMessage is one thread message edited in place as rows complete.
// Edits are limited to every tenth of the run to stay under Slack rate limits.
type progressMessage struct {
	ctx       context.Context
	api       slackAPI
	channel   string
	ts        string
	title     string
	lastTenth int
}

func newProgressMessage(ctx context.Context, api slackAPI, channel, threadTS, title string) *progressMessage {
	p := &progressMessage{ctx: ctx, api: api, channel: channel, title: title, lastTenth: -1}
	_, ts, err := api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(p.render(0), false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("progress message post error channel=%s (non-fatal): %v", channel, err)
		return p
	}
	p.ts = ts
	p.lastTenth = 0
	return p
}

func (p *progressMessage) render(fraction float64) string {
	filled := int(fraction * progressBarWidth)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)
	return fmt.Sprintf("%s\n`%s` %d%%", p.title, bar, int(fraction*100))
}

// Update is the pipeline progress callback.
func (p *progressMessage) Update(fraction float64) {
	if p.ts == "" {
		return
	}
	tenth := int(fraction * 10)
	if tenth <= p.lastTenth {
		return
	}
	p.lastTenth = tenth
	p.edit(p.render(fraction))
}

// Finish replaces the bar with a closing line.
func (p *progressMessage) Finish(text string) {
	if p.ts == "" {
		return
	}
	p.edit(p.title + "\n" + text)
}

func (p *progressMessage) edit(text string) {
	_, _, _, err := p.api.UpdateMessageContext(p.ctx, p.channel, p.ts, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("progress message update error channel=%s (non-fatal): %v", p.channel, err)
	}
}
