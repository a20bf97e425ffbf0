package sender

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"forwarder/internal/domain"
	"forwarder/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BotClient is the slice of the Telegram API a forward needs.
type BotClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender forwards a source message to every group of the target
// selection on behalf of one userbot. Each userbot gets its own rate
// limiter; a run succeeds if at least one group received the forward.
type TelegramSender struct {
	mu      sync.RWMutex
	clients map[string]BotClient

	groups   domain.GroupDirectory
	limiters sync.Map // phone -> *rate.Limiter
	rps      float64
	burst    int
	logger   *zerolog.Logger
}

func NewTelegramSender(groups domain.GroupDirectory, rps float64, burst int, logger *zerolog.Logger) *TelegramSender {
	if rps <= 0 {
		rps = models.DefaultSenderRPS
	}
	if burst <= 0 {
		burst = 1
	}
	return &TelegramSender{
		clients: make(map[string]BotClient),
		groups:  groups,
		rps:     rps,
		burst:   burst,
		logger:  logger,
	}
}

// RegisterClient binds a connected client to a userbot phone.
func (s *TelegramSender) RegisterClient(phone string, client BotClient) {
	s.mu.Lock()
	s.clients[phone] = client
	s.mu.Unlock()
}

func (s *TelegramSender) client(phone string) (BotClient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[phone]
	return c, ok
}

// Forward implements domain.Sender.
func (s *TelegramSender) Forward(ctx context.Context, userbotPhone, messageLink string, target models.Target) (time.Duration, error) {
	client, ok := s.client(userbotPhone)
	if !ok {
		return 0, NewSendError(ReasonUnauthorized, fmt.Errorf("userbot %s is not connected", userbotPhone))
	}

	ref, err := ParseMessageLink(messageLink)
	if err != nil {
		return 0, NewSendError(ReasonBadTarget, err)
	}

	groups, err := s.groups.ListTargetGroups(ctx, target)
	if err != nil {
		// Store failure, not a send failure: left unclassified so the
		// executor treats it as infrastructure.
		return 0, fmt.Errorf("resolve target groups: %w", err)
	}
	if len(groups) == 0 {
		return 0, NewSendError(ReasonBadTarget, fmt.Errorf("no target groups for client %s", target.ClientID))
	}

	limiter := s.limiterFor(userbotPhone)
	start := time.Now()
	successCount := 0
	var lastErr error

	for _, group := range groups {
		if err := limiter.Wait(ctx); err != nil {
			lastErr = NewSendError(ReasonNetwork, err)
			break
		}

		if _, err := client.Send(ref.forwardTo(group.GroupID)); err != nil {
			classified := classifyTelegramError(err)
			lastErr = classified
			if IsFatal(classified) {
				// Авторизация не восстановится сама по себе, остальные
				// группы пропускаем.
				break
			}
			s.logger.Warn().Err(err).Int64("group_id", group.GroupID).Str("userbot", userbotPhone).Msg("forward to group failed")
			continue
		}
		successCount++
	}

	if successCount == 0 {
		if lastErr == nil {
			lastErr = NewSendError(ReasonUnknown, errors.New("no forwards delivered"))
		}
		return 0, lastErr
	}

	return time.Since(start), nil
}

func (s *TelegramSender) limiterFor(phone string) *rate.Limiter {
	if v, ok := s.limiters.Load(phone); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(s.rps), s.burst)
	actual, loaded := s.limiters.LoadOrStore(phone, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

// MessageRef is a parsed t.me message link.
type MessageRef struct {
	ChatID    int64  // set for private channel links (t.me/c/...)
	Username  string // set for public links (t.me/name/...)
	MessageID int
}

var messageLinkRe = regexp.MustCompile(`^https?://t\.me/(?:c/(\d+)|([A-Za-z][A-Za-z0-9_]{3,}))/(\d+)$`)

// ParseMessageLink resolves a t.me link into a forwardable reference.
func ParseMessageLink(link string) (MessageRef, error) {
	m := messageLinkRe.FindStringSubmatch(link)
	if m == nil {
		return MessageRef{}, fmt.Errorf("unsupported message link: %q", link)
	}

	msgID, err := strconv.Atoi(m[3])
	if err != nil || msgID <= 0 {
		return MessageRef{}, fmt.Errorf("invalid message id in link: %q", link)
	}

	if m[1] != "" {
		// t.me/c/<id> ссылается на супергруппу с префиксом -100
		chatID, err := strconv.ParseInt("-100"+m[1], 10, 64)
		if err != nil {
			return MessageRef{}, fmt.Errorf("invalid chat id in link: %q", link)
		}
		return MessageRef{ChatID: chatID, MessageID: msgID}, nil
	}

	return MessageRef{Username: "@" + m[2], MessageID: msgID}, nil
}

func (r MessageRef) forwardTo(groupID int64) tgbotapi.ForwardConfig {
	cfg := tgbotapi.ForwardConfig{
		BaseChat:  tgbotapi.BaseChat{ChatID: groupID},
		MessageID: r.MessageID,
	}
	if r.Username != "" {
		cfg.FromChannelUsername = r.Username
	} else {
		cfg.FromChatID = r.ChatID
	}
	return cfg
}

func classifyTelegramError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return NewSendError(ReasonUnauthorized, err)
		case 403:
			return NewSendError(ReasonForbidden, err)
		case 420, 429:
			return NewSendError(ReasonRateLimited, err)
		case 400:
			return NewSendError(ReasonBadTarget, err)
		default:
			return NewSendError(ReasonUnknown, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewSendError(ReasonNetwork, err)
	}
	// Транспортные ошибки http-клиента
	return NewSendError(ReasonNetwork, err)
}
