package cache

import "fmt"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:%s:status", jobID)
}

func JobProgressKey(jobID string) string {
	return fmt.Sprintf("job:%s:progress", jobID)
}
