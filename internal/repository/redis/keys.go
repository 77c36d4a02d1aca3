package redis

import "fmt"

const ns = "bookd:v1"

func KeyEventConfirmed(eventID string) string {
	return fmt.Sprintf("%s:event:%s:confirmed", ns, eventID)
}

func KeyEventSnapshot(eventID string) string {
	return fmt.Sprintf("%s:event:%s:snapshot", ns, eventID)
}

func KeyIdemBooking(userID, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%s:%s", ns, userID, idemKey)
}

func ChannelBookingsChanged() string {
	return ns + ":bookings:changed"
}
