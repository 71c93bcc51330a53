package services

import "github.com/GrainArc/MapEditor/interaction"

// ControllerHooks 交互控制器的回调：会话写入留痕库，状态变化推送给订阅者
func ControllerHooks(n *Notifier, r *Recorder) interaction.Hooks {
	return interaction.Hooks{
		ModeChanged: func(from, to interaction.Mode) {
			n.Publish(Event{Type: EventModeChanged, Data: map[string]interaction.Mode{"from": from, "to": to}})
		},
		SessionOpened: func(s interaction.Snapshot) {
			r.SessionOpened(s)
			n.Publish(Event{Type: EventSession, LayerID: s.LayerID, FeatureID: string(s.FeatureID), Data: s})
		},
		SessionClosed: func(s interaction.Snapshot, status string) {
			r.SessionClosed(s, status)
			n.Publish(Event{Type: EventSession, LayerID: s.LayerID, FeatureID: string(s.FeatureID),
				Data: map[string]interface{}{"session": s, "status": status}})
		},
		Info: func(res interaction.InfoResult) {
			n.Publish(Event{Type: EventInfo, Data: res})
		},
	}
}
