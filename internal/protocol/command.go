package protocol

import "strconv"

// 指令按首位数字分类：1 单聊消息、2 群组事件、3 好友事件、4 用户状态、9 系统。
// 新增分类必须使用未占用的首位数字。
const (
	CmdLogin         int32 = 9000
	CmdLoginAck      int32 = 9001
	CmdForcedOffline int32 = 9002 // 多端登录互踢
	CmdLogout        int32 = 9003
	CmdLogoutAck     int32 = 9004
	CmdPing          int32 = 9999

	CmdMsgP2P         int32 = 1103
	CmdMsgAck         int32 = 1046
	CmdMsgReceiveAck  int32 = 1107 // 服务端/对端接收确认
	CmdMsgRead        int32 = 1106
	CmdMsgReadNotify  int32 = 1053 // 已读状态同步到自己其它端
	CmdMsgReadReceipt int32 = 1054 // 已读回执给原发送方
	CmdMsgRecall      int32 = 1050
	CmdMsgRecallNotify int32 = 1051
	CmdMsgRecallAck    int32 = 1052
	CmdMsgSyncOffline    int32 = 1056
	CmdMsgSyncOfflineAck int32 = 1057

	CmdMsgGroup    int32 = 2104
	CmdGroupMsgAck int32 = 2047

	CmdUserStatusChange int32 = 4004
)

// Category 指令的业务大类
type Category int

const (
	CategoryUnknown Category = iota
	CategoryMessage
	CategoryGroup
	CategoryFriend
	CategoryUser
	CategorySystem
)

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "message"
	case CategoryGroup:
		return "group"
	case CategoryFriend:
		return "friend"
	case CategoryUser:
		return "user"
	case CategorySystem:
		return "system"
	default:
		return "unknown"
	}
}

// CommandCategory 取指令十进制首位判断业务大类
func CommandCategory(command int32) Category {
	s := strconv.Itoa(int(command))
	switch s[0] {
	case '1':
		return CategoryMessage
	case '2':
		return CategoryGroup
	case '3':
		return CategoryFriend
	case '4':
		return CategoryUser
	case '9':
		return CategorySystem
	default:
		return CategoryUnknown
	}
}

// IsSystemCommand 登录、登出、心跳等系统指令在连接层就地处理，不进路由
func IsSystemCommand(command int32) bool {
	return CommandCategory(command) == CategorySystem
}
