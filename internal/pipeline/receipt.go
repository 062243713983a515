package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hongjun500/im-go/internal/protocol"
)

// ReceiveMark 对端上报的接收确认，原样转给发送方全部在线端。
// ServerSend 保持 false，和服务端代发的确认区分开。
func (s *Service) ReceiveMark(ctx context.Context, env *protocol.CommandEnvelope) error {
	var pack protocol.ReceiveAckPack
	if err := json.Unmarshal(env.Body, &pack); err != nil {
		return err
	}
	s.deliver.SendToUser(ctx, env.TenantID, pack.FromID, protocol.CmdMsgReceiveAck, protocol.OKResult(pack))
	return nil
}

// ReadMark 已读上报：同步给上报方自己的其他端对齐未读数，
// 再给原发送方推一条已读回执。
func (s *Service) ReadMark(ctx context.Context, env *protocol.CommandEnvelope) error {
	var pack protocol.ReadPack
	if err := json.Unmarshal(env.Body, &pack); err != nil {
		return err
	}
	s.deliver.SendToUserExcept(ctx, env.TenantID, pack.FromID,
		protocol.CmdMsgReadNotify, pack, env.DeviceClass, env.DeviceID)
	s.deliver.SendToUser(ctx, env.TenantID, pack.ToID, protocol.CmdMsgReadReceipt, pack)
	return nil
}
