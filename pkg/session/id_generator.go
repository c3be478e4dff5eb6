package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// idSequence монотонный счетчик для защиты от коллизий при исчерпании
// энтропии или одинаковых временных метках
var idSequence uint64

// NewDialogID генерирует криптографически стойкий идентификатор диалога.
// Формат: <hex энтропия>-<счетчик>. При ошибке crypto/rand выполняется
// fallback на временную метку - уникальность в пределах процесса
// сохраняется за счет счетчика.
func NewDialogID() DialogID {
	seq := atomic.AddUint64(&idSequence, 1)

	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return DialogID(fmt.Sprintf("dlg-%d-%d", time.Now().UnixNano(), seq))
	}
	return DialogID(fmt.Sprintf("%s-%d", hex.EncodeToString(buf), seq))
}
