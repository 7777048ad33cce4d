package issue

import "github.com/hitoshi/issuetracker/internal/model"

// IsValidTransition はステータスcurrentからproposedへの変更が許可されるかを判定する。
//
// 禁止されるのは Open → Done の直接遷移のみで、完了にするには必ず
// In Progress を経由する。同一ステータスへの変更と差し戻し（再オープン）は許可する。
// 未知のステータス値の検証は呼び出し側（ParseStatus）で行う。
func IsValidTransition(current, proposed model.Status) bool {
	if current == proposed {
		return true
	}
	if current == model.StatusOpen && proposed == model.StatusDone {
		return false
	}
	return true
}
