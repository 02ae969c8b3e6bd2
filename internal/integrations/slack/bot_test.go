package slackbot

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"gptqual/internal/analysis"
	"gptqual/internal/integrations/llm"
)

type fakeSlack struct {
	mu        sync.Mutex
	files     map[string]string
	uploads   []slack.UploadFileV2Parameters
	uploaded  []string
	posts     []string
	updates   []string
	userCalls int
}

func (f *fakeSlack) GetFileContext(ctx context.Context, url string, w io.Writer) error {
	body, ok := f.files[url]
	if !ok {
		return errors.New("not found")
	}
	_, err := io.WriteString(w, body)
	return err
}

func (f *fakeSlack) UploadFileV2Context(ctx context.Context, p slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	data, _ := io.ReadAll(p.Reader)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, p)
	f.uploaded = append(f.uploaded, string(data))
	return &slack.FileSummary{ID: "F1", Title: p.Title}, nil
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channel string, opts ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, channel)
	return channel, "1700000000.000100", nil
}

func (f *fakeSlack) UpdateMessageContext(ctx context.Context, channel, ts string, opts ...slack.MsgOption) (string, string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, ts)
	return channel, ts, "", nil
}

func (f *fakeSlack) PostEphemeralContext(ctx context.Context, channel, user string, opts ...slack.MsgOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, "ephemeral:"+user)
	return "", nil
}

func (f *fakeSlack) GetUserInfoContext(ctx context.Context, user string) (*slack.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	u := &slack.User{ID: user, Name: "alice", RealName: "Alice Example"}
	u.Profile.DisplayName = "alice.e"
	return u, nil
}

type sentimentModel struct{}

func (sentimentModel) Call(ctx context.Context, userPrompt, apiKey string) (llm.Response, error) {
	if strings.Contains(userPrompt, "great") {
		return llm.Response{Fields: map[string]any{"sentiment": "Positive", "category": "Praise"}}, nil
	}
	return llm.Response{Fields: map[string]any{"sentiment": "Negative", "category": "Complaint"}}, nil
}
func (sentimentModel) Provider() string { return "stub" }
func (sentimentModel) Model() string    { return "stub-1" }

func messageEvent(text string, files ...slack.File) *slackevents.MessageEvent {
	return &slackevents.MessageEvent{
		User:      "U123456789",
		Channel:   "C1",
		TimeStamp: "1700000000.000001",
		SubType:   "file_share",
		Message:   &slack.Msg{Text: text, Files: files},
	}
}

func csvFile() slack.File {
	return slack.File{Name: "reviews.csv", Filetype: "csv", URLPrivateDownload: "https://files/reviews.csv", Size: 50}
}

func TestHandleMessageAnalyzesAndUploads(t *testing.T) {
	api := &fakeSlack{files: map[string]string{"https://files/reviews.csv": "id,review\n1,great product\n2,terrible service\n"}}
	bot := NewBot(api, analysis.NewAnalyzer(sentimentModel{}, nil), 0)

	bot.handleMessage(context.Background(), messageEvent("analyze column=review mode=categorize output=topic", csvFile()))

	if len(api.uploads) != 1 {
		t.Fatalf("expected one upload, got %d (posts=%v)", len(api.uploads), api.posts)
	}
	up := api.uploads[0]
	if up.Filename != "analyzed_data.csv" || up.Channel != "C1" || up.ThreadTimestamp != "1700000000.000001" {
		t.Fatalf("unexpected upload params: %+v", up)
	}
	want := "id,review,topic\n1,great product,Praise\n2,terrible service,Complaint\n"
	if api.uploaded[0] != want {
		t.Fatalf("uploaded csv = %q, want %q", api.uploaded[0], want)
	}
	if up.FileSize != len(want) {
		t.Fatalf("file size = %d, want %d", up.FileSize, len(want))
	}
	if !strings.Contains(up.InitialComment, "Praise: 1") || !strings.Contains(up.InitialComment, "requested by alice.e") {
		t.Fatalf("initial comment = %q", up.InitialComment)
	}
	if len(api.updates) == 0 {
		t.Fatal("expected progress message edits")
	}
}

func TestHandleMessageIgnoresUnrelated(t *testing.T) {
	api := &fakeSlack{}
	bot := NewBot(api, analysis.NewAnalyzer(sentimentModel{}, nil), 0)

	bot.handleMessage(context.Background(), messageEvent("hello there", csvFile()))
	bot2 := &slackevents.MessageEvent{BotID: "B1", Message: &slack.Msg{Text: "analyze column=a mode=sentiment"}}
	bot.handleMessage(context.Background(), bot2)

	if len(api.posts) != 0 || len(api.uploads) != 0 {
		t.Fatalf("expected no activity, posts=%v uploads=%d", api.posts, len(api.uploads))
	}
}

func TestHandleMessageRepliesOnProblems(t *testing.T) {
	api := &fakeSlack{files: map[string]string{"https://files/reviews.csv": "id,review\n1,great\n"}}
	bot := NewBot(api, analysis.NewAnalyzer(sentimentModel{}, nil), 0)

	bot.handleMessage(context.Background(), messageEvent("analyze column=review mode=sentiment"))
	bot.handleMessage(context.Background(), messageEvent("analyze mode=sentiment", csvFile()))
	bot.handleMessage(context.Background(), messageEvent("analyze column=missing mode=sentiment", csvFile()))

	if len(api.uploads) != 0 {
		t.Fatalf("expected no uploads, got %d", len(api.uploads))
	}
	if len(api.posts) < 3 {
		t.Fatalf("expected a reply per problem, got %v", api.posts)
	}
}

func TestDownloadRespectsLimit(t *testing.T) {
	api := &fakeSlack{files: map[string]string{"https://files/big.csv": "a\n" + strings.Repeat("x", 100) + "\n"}}
	bot := NewBot(api, analysis.NewAnalyzer(sentimentModel{}, nil), 32)

	_, err := bot.download(context.Background(), slack.File{Name: "big.csv", URLPrivateDownload: "https://files/big.csv"})
	if !errors.Is(err, errFileTooLarge) {
		t.Fatalf("expected errFileTooLarge, got %v", err)
	}
	_, err = bot.download(context.Background(), slack.File{Name: "big.csv", Size: 1000})
	if !errors.Is(err, errFileTooLarge) {
		t.Fatalf("expected declared size to be checked, got %v", err)
	}
}

func TestPickCSV(t *testing.T) {
	files := []slack.File{
		{Name: "notes.txt", Filetype: "text"},
		{Name: "Export.CSV", Filetype: "text"},
	}
	f, ok := pickCSV(files)
	if !ok || f.Name != "Export.CSV" {
		t.Fatalf("pickCSV = %+v, %v", f, ok)
	}
	if _, ok := pickCSV([]slack.File{{Name: "a.png", Filetype: "png"}}); ok {
		t.Fatal("expected no csv")
	}
}

func TestChannelClaim(t *testing.T) {
	bot := NewBot(&fakeSlack{}, analysis.NewAnalyzer(sentimentModel{}, nil), 0)
	if !bot.claim("C1") {
		t.Fatal("first claim must succeed")
	}
	if bot.claim("C1") {
		t.Fatal("second claim must fail while active")
	}
	bot.release("C1")
	if !bot.claim("C1") {
		t.Fatal("claim after release must succeed")
	}
}

func TestProgressMessageThrottles(t *testing.T) {
	api := &fakeSlack{}
	p := newProgressMessage(context.Background(), api, "C1", "1.0", "Analyzing")
	for i := 1; i <= 100; i++ {
		p.Update(float64(i) / 100)
	}
	if len(api.updates) != 10 {
		t.Fatalf("expected 10 edits for 100 rows, got %d", len(api.updates))
	}
	if got := p.render(0.5); !strings.Contains(got, "50%") {
		t.Fatalf("render(0.5) = %q", got)
	}
}

func TestUserCacheReusesLookups(t *testing.T) {
	api := &fakeSlack{}
	c := newUserCache()
	for i := 0; i < 3; i++ {
		if got := c.displayName(context.Background(), api, "U1"); got != "alice.e" {
			t.Fatalf("displayName = %q", got)
		}
	}
	if api.userCalls != 1 {
		t.Fatalf("expected one users.info call, got %d", api.userCalls)
	}
	if c.displayName(context.Background(), api, "") != "" {
		t.Fatal("empty user id must resolve to empty name")
	}
}
