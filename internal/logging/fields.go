package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + run_id 等基础字段，便于不同入口复用。
func BaseFields(action, runID string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"run_id": runID,
	}
}

// RunFields 提供键/manifest/终态字段，供一次完整运行的日志复用。
func RunFields(runID, key, manifest, outcome string, remoteEnabled bool) logrus.Fields {
	return logrus.Fields{
		"run_id":   runID,
		"key":      key,
		"manifest": manifest,
		"outcome":  outcome,
		"remote":   remoteEnabled,
	}
}
