package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"cdpnetmon/pkg/domain"

	"github.com/mafredri/cdp/devtool"
)

// ErrDiscoveryUnavailable 调试端口不可达或目标列表无法解析
var ErrDiscoveryUnavailable = errors.New("discovery unavailable")

// ErrNoTarget 没有可附加的目标
var ErrNoTarget = errors.New("no attachable target")

// URLForPort 根据调试端口构造 DevTools 地址
func URLForPort(port int) string {
	return "http://127.0.0.1:" + strconv.Itoa(port)
}

// ListTargets 查询目标列表，仅返回带有 WebSocket 调试地址的目标
func ListTargets(ctx context.Context, devtoolsURL string) ([]domain.DebugTarget, error) {
	dt := devtool.New(devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDiscoveryUnavailable, devtoolsURL, err)
	}
	out := make([]domain.DebugTarget, 0, len(targets))
	for _, t := range targets {
		if t == nil || t.WebSocketDebuggerURL == "" {
			continue
		}
		out = append(out, domain.DebugTarget{
			ID:           domain.TargetID(t.ID),
			Type:         string(t.Type),
			Title:        t.Title,
			URL:          t.URL,
			WebSocketURL: t.WebSocketDebuggerURL,
		})
	}
	return out, nil
}

// Pick 按 ID 选择目标；id 为空时优先第一个 page 类型目标，否则取第一个
func Pick(targets []domain.DebugTarget, id domain.TargetID) (domain.DebugTarget, error) {
	if id != "" {
		for _, t := range targets {
			if t.ID == id {
				return t, nil
			}
		}
		return domain.DebugTarget{}, fmt.Errorf("%w: %s", ErrNoTarget, id)
	}
	for _, t := range targets {
		if t.Type == string(devtool.Page) {
			return t, nil
		}
	}
	if len(targets) > 0 {
		return targets[0], nil
	}
	return domain.DebugTarget{}, ErrNoTarget
}
