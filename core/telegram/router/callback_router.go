package router

import (
	"time"

	tg "github.com/m3rciful/relaybot/core/telegram"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute returns a handler that routes callbacks through the registry.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}

		key, _ := parseCallback(c.Callback())
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		_ = c.Respond()

		cbHandler, ok := reg.GetCallback(key)
		if !ok || cbHandler == nil {
			fallback := reg.CallbackNotFound()
			if fallback == nil {
				fallback = opts.NotFound
			}
			extras = append(extras, slog.String("reason", "not_found"))
			return handleWithSummary(c, name, start, "", "", func() error {
				if fallback != nil {
					return fallback(c)
				}
				return nil
			}, extras...)
		}

		return handleWithSummary(c, name, start, "", "", func() error {
			return cbHandler(c)
		}, extras...)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  handler,
	}
}

// TextRoute returns a handler for plain text messages outside of commands.
func TextRoute(reg *tg.Registry) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		fallback := reg.TextFallback()
		if fallback == nil {
			return nil
		}
		return handleWithSummary(c, "message.text", start, "", "", func() error {
			return fallback(c)
		})
	}
	return tg.Route{
		Endpoint: tele.OnText,
		Handler:  handler,
	}
}

// PhotoRoute returns a handler for incoming photo messages.
func PhotoRoute(h tele.HandlerFunc) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		return handleWithSummary(c, "message.photo", start, "", "", func() error {
			return h(c)
		})
	}
	return tg.Route{
		Endpoint: tele.OnPhoto,
		Handler:  handler,
	}
}
