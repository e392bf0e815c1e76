package redis

import "fmt"

func definitionKey(prefix, tenant, key string) string {
	return fmt.Sprintf("%vdefinition:%v:%v", prefix, tenant, key)
}

// versionsKey returns the key of the hash holding all versions of a
// definition, keyed by version number.
func versionsKey(prefix, definitionID string) string {
	return fmt.Sprintf("%vversions:%v", prefix, definitionID)
}

// publishedKey returns the key holding the published version number of a
// definition.
func publishedKey(prefix, definitionID string) string {
	return fmt.Sprintf("%vpublished:%v", prefix, definitionID)
}

func instanceKey(prefix, instanceID string) string {
	return fmt.Sprintf("%vinstance:%v", prefix, instanceID)
}

// lockKey returns the key of an instance's lock. The value is the holder;
// expiry is the lock timeout.
func lockKey(prefix, instanceID string) string {
	return fmt.Sprintf("%vlock:%v", prefix, instanceID)
}

func activityInstanceKey(prefix, id string) string {
	return fmt.Sprintf("%vactivity-instance:%v", prefix, id)
}

// activityInstancesKey returns the key of the list of activity instance ids
// of one process instance, oldest first.
func activityInstancesKey(prefix, instanceID string) string {
	return fmt.Sprintf("%vactivity-instances:%v", prefix, instanceID)
}

// activeActivityKey returns the key pointing at the single active activity
// instance for one (instance, activity id) pair.
func activeActivityKey(prefix, instanceID, activityID string) string {
	return fmt.Sprintf("%vactive-activity:%v:%v", prefix, instanceID, activityID)
}

func variablesKey(prefix, instanceID string) string {
	return fmt.Sprintf("%vvariables:%v", prefix, instanceID)
}
