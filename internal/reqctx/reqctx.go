// Package reqctx 在 context 中传递请求方信息，供审计记录读取
package reqctx

import (
	"context"
	"strings"
)

const Unknown = "unknown"

type clientKey struct{}

type ClientInfo struct {
	IP        string
	UserAgent string
}

func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, ClientInfo{
		IP:        strings.TrimSpace(ip),
		UserAgent: strings.TrimSpace(userAgent),
	})
}

// ClientInfoFrom 取不到时返回 "unknown"
func ClientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientKey{}).(ClientInfo)
	if info.IP == "" {
		info.IP = Unknown
	}
	if info.UserAgent == "" {
		info.UserAgent = Unknown
	}
	return info
}
