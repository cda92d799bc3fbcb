package sessionx

import "log/slog"

func errAttr(err error) slog.Attr {
	return slog.String("error", err.Error())
}
