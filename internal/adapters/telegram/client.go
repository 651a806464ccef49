/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/rs/zerolog"
)

const defaultAPIBase = "https://api.telegram.org"

// maxChunk stays below Telegram's 4096 character message limit.
const maxChunk = 3800

type Client struct {
    token     string
    apiBase   string
    chatIDs   []int64
    usernames []string
    http      *http.Client
    log       zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        token:     cfg.TelegramToken,
        apiBase:   defaultAPIBase,
        chatIDs:   cfg.TelegramChatIDs,
        usernames: cfg.TelegramChatUsernames,
        http:      &http.Client{Timeout: 10 * time.Second},
        log:       log,
    }
}

// WithAPIBase points the client at another Bot API host.
func (c *Client) WithAPIBase(base string) *Client {
    c.apiBase = strings.TrimRight(base, "/")
    return c
}

// Validate reports missing credentials as a startup fault.
func (c *Client) Validate() error {
    if c.token == "" {
        return domain.NewStartupError(domain.FaultCredential, "telegram", errors.New("TELEGRAM_BOT_TOKEN is empty"))
    }
    if len(c.chatIDs) == 0 && len(c.usernames) == 0 {
        return domain.NewStartupError(domain.FaultConfig, "telegram", errors.New("no TELEGRAM_CHAT_IDS or TELEGRAM_CHAT_USERNAMES configured"))
    }
    return nil
}

func (c *Client) post(ctx context.Context, method string, body map[string]any, out any) error {
    if c.token == "" { return fmt.Errorf("telegram: missing token") }
    url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
    b, err := json.Marshal(body)
    if err != nil { return err }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
    if err != nil { return err }
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        bodyBytes, _ := io.ReadAll(resp.Body)
        return fmt.Errorf("telegram %s status=%d body=%s", method, resp.StatusCode, string(bodyBytes))
    }
    if out != nil { return json.NewDecoder(resp.Body).Decode(out) }
    return nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
    if chatID == 0 { return fmt.Errorf("telegram: missing chat id") }
    body := map[string]any{"chat_id": chatID, "text": text, "parse_mode": "Markdown", "disable_web_page_preview": true}
    return c.post(ctx, "sendMessage", body, nil)
}

// SendMessagePlain sends without parse_mode to avoid markdown parsing errors
func (c *Client) SendMessagePlain(ctx context.Context, chatID int64, text string) error {
    if chatID == 0 { return fmt.Errorf("telegram: missing chat id") }
    body := map[string]any{"chat_id": chatID, "text": text, "disable_web_page_preview": true}
    return c.post(ctx, "sendMessage", body, nil)
}

func (c *Client) ResolveUsername(ctx context.Context, username string) (int64, error) {
    if username == "" { return 0, fmt.Errorf("telegram: missing username") }
    var r struct{ OK bool `json:"ok"`; Result struct{ ID int64 `json:"id"` } `json:"result"` }
    if err := c.post(ctx, "getChat", map[string]any{"chat_id": username}, &r); err != nil { return 0, err }
    if !r.OK || r.Result.ID == 0 { return 0, fmt.Errorf("telegram: invalid getChat response") }
    return r.Result.ID, nil
}

// Notify delivers text to every configured chat, split into chunks. A chunk
// rejected as Markdown is retried as plain text. Errors of individual chats
// are joined; delivery continues for the others.
func (c *Client) Notify(ctx context.Context, text string) error {
    if strings.TrimSpace(text) == "" { return nil }
    chats := append([]int64(nil), c.chatIDs...)
    var errs []error
    if len(chats) == 0 {
        for _, u := range c.usernames {
            id, err := c.ResolveUsername(ctx, u)
            if err != nil {
                c.log.Error().Err(err).Str("username", u).Msg("resolve username failed")
                errs = append(errs, err)
                continue
            }
            chats = append(chats, id)
        }
    }
    if len(chats) == 0 && len(errs) == 0 { return errors.New("telegram: no chats configured") }
    parts := chunkText(text, maxChunk)
    for _, chat := range chats {
        for _, p := range parts {
            if err := c.SendMessage(ctx, chat, p); err != nil {
                c.log.Warn().Err(err).Int64("chat", chat).Msg("markdown send failed; retrying plain")
                if err := c.SendMessagePlain(ctx, chat, p); err != nil {
                    c.log.Error().Err(err).Int64("chat", chat).Msg("telegram send failed")
                    errs = append(errs, fmt.Errorf("chat %d: %w", chat, err))
                    break
                }
            }
        }
    }
    return errors.Join(errs...)
}

// chunkText splits text into chunks of up to max runes, attempting to break on line boundaries.
func chunkText(s string, max int) []string {
    if max <= 0 { return []string{s} }
    var chunks []string
    lines := strings.Split(s, "\n")
    cur := ""
    curlen := 0
    for _, ln := range lines {
        rl := len([]rune(ln))
        // If a single line exceeds max, hard-split the line
        if rl > max {
            if curlen > 0 { chunks = append(chunks, cur); cur = ""; curlen = 0 }
            r := []rune(ln)
            for i := 0; i < rl; i += max {
                j := i + max
                if j > rl { j = rl }
                chunks = append(chunks, string(r[i:j]))
            }
            continue
        }
        // account for newline when appending to non-empty cur
        extra := rl
        if curlen > 0 { extra += 1 }
        if curlen+extra > max {
            chunks = append(chunks, cur)
            cur = ln
            curlen = rl
        } else {
            if curlen == 0 { cur = ln; curlen = rl } else { cur += "\n" + ln; curlen += extra }
        }
    }
    if curlen > 0 { chunks = append(chunks, cur) }
    if len(chunks) == 0 { chunks = []string{""} }
    return chunks
}
