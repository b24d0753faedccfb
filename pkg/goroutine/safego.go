// Package goroutine запуск горутин с перехватом паники.
package goroutine

import (
	"fmt"
	"runtime/debug"

	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
)

// SafeGo запускает fn в отдельной горутине. Паника логируется со стеком и не роняет процесс.
func SafeGo(log *logger.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("goroutine panicked",
					"goroutine", name,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
