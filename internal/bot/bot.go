package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	zero "github.com/wdvxdr1123/ZeroBot"
	"github.com/wdvxdr1123/ZeroBot/driver"
	"github.com/wdvxdr1123/ZeroBot/message"

	"github.com/liao/mall-concierge/internal/ai"
	"github.com/liao/mall-concierge/internal/assistant"
	"github.com/liao/mall-concierge/internal/chat"
	"github.com/liao/mall-concierge/internal/config"
	"github.com/liao/mall-concierge/internal/rag"
)

// 私聊回复里最多展示的历史条数
const historyPreview = 10

type Bot struct {
	cfg    *config.Config
	sam    *assistant.Assistant
	cancel context.CancelFunc
}

func New(cfg *config.Config, sam *assistant.Assistant) *Bot {
	return &Bot{
		cfg: cfg,
		sam: sam,
	}
}

// ThreadID 每个 QQ 私聊对应一个会话
func ThreadID(userID int64) string {
	return "qq:" + strconv.FormatInt(userID, 10)
}

func (b *Bot) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	ws := driver.NewWebSocketClient(
		b.cfg.NapCat.WSURL,
		b.cfg.NapCat.AccessToken,
	)

	// 命令先注册，匹配后阻断普通消息处理
	zero.OnCommand("history", zero.OnlyPrivate, b.visitorFilter()).SetBlock(true).Handle(func(zctx *zero.Ctx) {
		b.handleHistory(ctx, zctx)
	})

	// 管理命令：owner 发 /ingest <path> 导入店铺数据
	zero.OnCommand("ingest", zero.OnlyPrivate, b.ownerFilter()).SetBlock(true).Handle(func(zctx *zero.Ctx) {
		b.handleIngest(ctx, zctx)
	})

	zero.OnMessage(zero.OnlyPrivate, b.visitorFilter()).Handle(func(zctx *zero.Ctx) {
		b.handleMessage(ctx, zctx)
	})

	slog.Info("bot starting",
		"ws_url", b.cfg.NapCat.WSURL,
		"allowed", len(b.cfg.Bot.AllowedQQ),
	)

	zero.RunAndBlock(&zero.Config{
		NickName:      []string{b.cfg.Bot.NickName},
		CommandPrefix: "/",
		SuperUsers:    []int64{b.cfg.Bot.OwnerQQ},
		Driver:        []zero.Driver{ws},
	}, nil)
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bot) handleMessage(ctx context.Context, zctx *zero.Ctx) {
	userMsg := strings.TrimSpace(zctx.ExtractPlainText())
	if userMsg == "" || strings.HasPrefix(userMsg, "/") {
		return // 跳过纯表情/图片和未知命令
	}

	threadID := ThreadID(zctx.Event.UserID)
	slog.Info("received message", "thread", threadID, "text", userMsg)

	reply, err := b.sam.ProcessUserQuery(ctx, userMsg, threadID)
	if err != nil {
		slog.Error("process query failed", "thread", threadID, "error", err)
		zctx.Send(message.Text(ai.FormatReplyForChat(assistant.FallbackAnswer)))
		return
	}
	zctx.Send(message.Text(ai.FormatReplyForChat(reply.Response)))
}

func (b *Bot) handleHistory(ctx context.Context, zctx *zero.Ctx) {
	threadID := ThreadID(zctx.Event.UserID)
	msgs, err := b.sam.History(ctx, threadID)
	if err != nil {
		slog.Error("load history failed", "thread", threadID, "error", err)
		zctx.Send(message.Text("history unavailable right now"))
		return
	}
	zctx.Send(message.Text(FormatHistory(msgs, historyPreview)))
}

func (b *Bot) handleIngest(ctx context.Context, zctx *zero.Ctx) {
	args, _ := zctx.State["args"].(string)
	path := strings.TrimSpace(args)
	if path == "" {
		zctx.Send(message.Text("usage: /ingest <path>"))
		return
	}

	n, err := b.sam.Ingest(ctx, path, rag.FormatAuto)
	if err != nil {
		slog.Error("ingest failed", "path", path, "error", err)
		zctx.Send(message.Text("ingest failed: " + err.Error()))
		return
	}
	zctx.Send(message.Text(fmt.Sprintf("indexed %d shops from %s", n, path)))
}

// FormatHistory 渲染最近 limit 条消息，AI 回复只显示正文
func FormatHistory(msgs []chat.Message, limit int) string {
	if len(msgs) == 0 {
		return "no conversation yet"
	}
	shown := chat.Last(msgs, limit)

	var sb strings.Builder
	if len(shown) < len(msgs) {
		fmt.Fprintf(&sb, "(showing last %d of %d messages)\n", len(shown), len(msgs))
	}
	for _, m := range shown {
		switch m.Role {
		case chat.RoleHuman:
			sb.WriteString("you: " + m.Content + "\n")
		case chat.RoleAI:
			text := m.Content
			if r, ok := ai.ParseReply(text); ok {
				text = r.TextResponse
			}
			sb.WriteString("sam: " + text + "\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func (b *Bot) visitorFilter() zero.Rule {
	return func(ctx *zero.Ctx) bool {
		if len(b.cfg.Bot.AllowedQQ) == 0 {
			return true // 不限制，回复所有人
		}
		return ctx.Event.UserID == b.cfg.Bot.OwnerQQ || slices.Contains(b.cfg.Bot.AllowedQQ, ctx.Event.UserID)
	}
}

func (b *Bot) ownerFilter() zero.Rule {
	return func(ctx *zero.Ctx) bool {
		return b.cfg.Bot.OwnerQQ != 0 && ctx.Event.UserID == b.cfg.Bot.OwnerQQ
	}
}
