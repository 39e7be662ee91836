package loop

import "time"

func SetStoreClock(s *Store, now func() time.Time) { s.now = now }
