package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/figuro/voice/internal/conversation"
	"github.com/figuro/voice/pkg/types"
)

const chatHelp = `Lệnh:
  /               mở/đóng phiên trò chuyện
  /listen         bật/tắt micro để nói bằng giọng nói
  /actions        liệt kê thao tác nhanh
  /1 … /4         chạy thao tác nhanh
  /product <tên>  hỏi thông tin sản phẩm
  /order [mã]     kiểm tra đơn hàng
  /recommend [dm] gợi ý sản phẩm
  /lang <mã>      đổi ngôn ngữ (vi-VN, en-US)
  /stop           dừng đọc câu trả lời
  /history        in lại lịch sử hội thoại
  /help           trợ giúp
  /quit           thoát`

const firstUseHint = "Mẹo: gõ câu hỏi rồi nhấn Enter, hoặc gõ /listen để nói chuyện bằng giọng nói."

// chat is the terminal front end of a conversation session.
type chat struct {
	m   *conversation.Manager
	in  io.Reader
	out io.Writer

	mu sync.Mutex // serialises writes to out
}

func newChat(m *conversation.Manager, in io.Reader, out io.Writer) *chat {
	return &chat{m: m, in: in, out: out}
}

func (c *chat) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Run opens the session, prints its history and reads commands until EOF,
// /quit or ctx is cancelled. The session is closed on return.
func (c *chat) Run(ctx context.Context) error {
	events, cancel := c.m.Subscribe(16)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		c.printEvents(events)
	}()
	defer func() {
		c.m.Close()
		cancel()
		<-printed
	}()

	c.m.Open(ctx)

	c.printHistory()
	if c.m.FirstUse() {
		c.printf("%s\n", firstUseHint)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (c *chat) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if line == "/" {
		c.m.Toggle(ctx)
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.report(c.m.Submit(ctx, line, types.SourceText))
		return false
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		c.printf("%s\n", chatHelp)
	case "actions":
		for i, a := range conversation.QuickActions() {
			c.printf("  /%d  %s\n", i+1, a.Label)
		}
	case "product":
		if arg == "" {
			c.printf("Cần tên sản phẩm: /product <tên>\n")
			return false
		}
		c.report(c.m.AskProductInfo(ctx, arg))
	case "order":
		c.report(c.m.CheckOrderStatus(ctx, arg))
	case "recommend":
		c.report(c.m.GetRecommendations(ctx, arg))
	case "lang":
		if !c.m.SetLanguage(types.Language(arg)) {
			c.printf("Ngôn ngữ không hỗ trợ: %q\n", arg)
			return false
		}
		c.printf("Ngôn ngữ: %s\n", arg)
	case "listen":
		if c.m.State() == conversation.StateListening {
			c.m.StopListening()
			c.printf("Đã tắt micro.\n")
			return false
		}
		if err := c.m.StartListening(ctx); errors.Is(err, conversation.ErrBusy) {
			c.printf("Đang xử lý, vui lòng đợi…\n")
		}
	case "stop":
		c.m.StopSpeaking()
	case "history":
		c.printHistory()
	default:
		if n, err := strconv.Atoi(cmd); err == nil {
			actions := conversation.QuickActions()
			if n >= 1 && n <= len(actions) {
				c.report(c.m.Submit(ctx, actions[n-1].Query, types.SourceText))
				return false
			}
		}
		c.printf("Lệnh không hợp lệ: /%s (gõ /help)\n", cmd)
	}
	return false
}

// report prints a busy session. Replies and the error state are printed
// from the event stream.
func (c *chat) report(_ types.VoiceResult, err error) {
	if errors.Is(err, conversation.ErrBusy) {
		c.printf("Đang xử lý, vui lòng đợi…\n")
	}
}

func (c *chat) printHistory() {
	for _, t := range c.m.Snapshot().Turns {
		c.printTurn(t.Role, t.Text, t.RecommendedItems)
	}
}

func (c *chat) printTurn(role types.Role, text string, items []string) {
	who := "Bạn"
	if role == types.RoleAgent {
		who = "Figuro"
	}
	c.printf("%s: %s\n", who, text)
	if len(items) > 0 {
		c.printf("   ↳ %s\n", strings.Join(items, ", "))
	}
}

// printEvents prints each new reply and error once, plus voice transcripts.
func (c *chat) printEvents(events <-chan conversation.Event) {
	var (
		last  *types.VoiceResult
		prev  = conversation.StateIdle
		lastE error
	)
	for ev := range events {
		switch {
		case ev.State == conversation.StateListening && prev != conversation.StateListening:
			c.printf("Đang nghe…\n")
		case ev.State == conversation.StateProcessing && prev == conversation.StateListening && ev.Transcript != "":
			c.printTurn(types.RoleUser, ev.Transcript, nil)
		}
		if ev.Result != nil && ev.Result != last {
			last = ev.Result
			c.printTurn(types.RoleAgent, ev.Result.ResponseText, ev.Result.ProductRecommendations)
		}
		if ev.State == conversation.StateError && ev.Err != nil && ev.Err != lastE {
			lastE = ev.Err
			c.printf("Lỗi: %v\n", ev.Err)
		}
		prev = ev.State
	}
}
