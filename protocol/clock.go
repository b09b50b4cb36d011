package protocol

import "time"

func timeNowRFC1123() string {
	return time.Now().UTC().Format(time.RFC1123)
}
