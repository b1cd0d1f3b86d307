package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"
)

func Logger() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			now := time.Now()

			rqID := uuid.NewString()
			c.Set("rqID", rqID)

			var chatID int64
			if chat := c.Chat(); chat != nil {
				chatID = chat.ID
			}

			slog.Info(
				"start request",
				slog.String("rqID", rqID),
				slog.Int64("chatID", chatID),
				slog.String("text", c.Text()),
			)

			defer func() {
				slog.Info(
					"request finished",
					slog.String("rqID", rqID),
					slog.String("request duration", fmt.Sprintf("%.2fs", time.Since(now).Seconds())),
				)
			}()

			return next(c)
		}
	}
}

// OwnerOnly drops updates from every chat except the owner one.
func OwnerOnly(ownerChatID int64) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil || chat.ID != ownerChatID {
				rqID, _ := c.Get("rqID").(string)
				var chatID int64
				if chat != nil {
					chatID = chat.ID
				}
				slog.Warn("update from foreign chat ignored", slog.String("rqID", rqID), slog.Int64("chatID", chatID))
				return nil
			}
			return next(c)
		}
	}
}
