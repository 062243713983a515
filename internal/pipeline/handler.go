package pipeline

import (
	"context"

	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/pkg/logger"
)

// Handle 消息队列的消费入口，按指令分发到各处理函数。
// 未识别的消息类指令记日志丢弃，不算毒消息。
func (s *Service) Handle(ctx context.Context, env *protocol.CommandEnvelope) error {
	switch env.Command {
	case protocol.CmdMsgP2P:
		return s.Process(ctx, env)
	case protocol.CmdMsgReceiveAck:
		return s.ReceiveMark(ctx, env)
	case protocol.CmdMsgRead:
		return s.ReadMark(ctx, env)
	case protocol.CmdMsgRecall:
		return s.Recall(ctx, env)
	case protocol.CmdMsgSyncOffline:
		return s.SyncOffline(ctx, env)
	default:
		logger.L().Sugar().Debugw("message_command_ignored", "command", env.Command)
		return nil
	}
}
