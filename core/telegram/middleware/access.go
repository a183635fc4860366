package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	IsAdmin  func(int64) bool
	OnReject tele.HandlerFunc
}

func (o AdminOptions) allows(c tele.Context) bool {
	if o.IsAdmin == nil {
		return false
	}
	user := c.Sender()
	if user == nil {
		return false
	}
	return o.IsAdmin(user.ID)
}

// AdminOnlyMiddleware ensures that only configured admins can invoke downstream handlers.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if !opts.allows(c) {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
