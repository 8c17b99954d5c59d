package redis

import "fmt"

func instanceKey(keyPrefix string, instanceID string) string {
	return fmt.Sprintf("%vinstance:%v", keyPrefix, instanceID)
}

// instancesByCreation returns the key for the ZSET that contains all instances sorted by creation date. The
// score is the creation time.
func instancesByCreation(keyPrefix string) string {
	return keyPrefix + "instances-by-creation"
}

// historyKey is the LIST holding the serialized events of an instance in sequence order.
func historyKey(keyPrefix string, instanceID string) string {
	return fmt.Sprintf("%vhistory:%v", keyPrefix, instanceID)
}

// historyStateKey is the HASH tracking the last sequence id and whether the instance finished.
func historyStateKey(keyPrefix string, instanceID string) string {
	return fmt.Sprintf("%vhistory-state:%v", keyPrefix, instanceID)
}

func activityQueueKey(keyPrefix string) string {
	return keyPrefix + "activity-queue"
}

// dispatchedKey marks an activity call as handed to the activity queue. taskKey is instance id and task id.
func dispatchedKey(keyPrefix string, taskKey string) string {
	return fmt.Sprintf("%vdispatched:%v", keyPrefix, taskKey)
}
