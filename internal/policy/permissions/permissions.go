// Package permissions holds the chat-member privilege predicates admin commands rely on.
package permissions

import api "github.com/OvyFlash/telegram-bot-api"

// CanManage reports whether member owns the chat or administers its settings.
func CanManage(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanManageChat || member.CanPromoteMembers)
}

// CanModerate reports whether member may mute, ban or kick other members.
func CanModerate(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	return CanManage(member) || (member.IsAdministrator() && member.CanRestrictMembers)
}
