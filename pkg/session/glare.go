package session

import (
	"math/rand"
	"sync"
	"time"
)

// glareStep шаг дискретизации интервалов повтора после 491
const glareStep = 10 * time.Millisecond

// GlareConfig конфигурация разрешителя glare конфликтов
type GlareConfig struct {
	// Rand источник случайности; по умолчанию времязависимый.
	// Тесты передают детерминированный источник.
	Rand *rand.Rand
}

// GlareResolver вычисляет интервалы повтора offer после 491 Request
// Pending согласно RFC 3261 §14.1: владелец Call-ID повторяет в
// [2100, 4000) мс, другая сторона - в [0, 2000) мс, с шагом 10 мс.
// Асимметричные окна не пересекаются, поэтому одновременный повтор
// с повторным glare исключен.
//
// Один resolver разделяется всеми сессиями стека.
type GlareResolver struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGlareResolver создает разрешитель glare конфликтов
func NewGlareResolver(cfg GlareConfig) *GlareResolver {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &GlareResolver{rng: rng}
}

// BackoffInterval вычисляет интервал до повторной отправки offer.
//
// pendingOffer=true означает, что локальная конфигурация уже изменилась
// с момента конфликтного offer - повтор произойдет немедленно, так как
// новый offer в любом случае отражает более свежее состояние.
// incoming=true для входящего вызова (не владелец Call-ID).
func (g *GlareResolver) BackoffInterval(incoming, pendingOffer bool) time.Duration {
	if pendingOffer {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if incoming {
		return glareStep * time.Duration(g.rng.Intn(200))
	}
	return glareStep * time.Duration(210+g.rng.Intn(190))
}

// ResolveGlare обрабатывает 491 на re-INVITE сессии: переводит ее в
// ожидание и назначает отложенный повтор offer.
func (g *GlareResolver) ResolveGlare(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveGlareLocked()
}

// resolveGlareLocked внутренняя точка входа разрешения glare.
// Вызывается с удержанным мьютексом сессии.
func (s *Session) resolveGlareLocked() {
	if s.stateLocked() != StateReinviteSent {
		s.log.Warn("491 вне ожидания ответа на re-INVITE, игнорируется",
			String("state", s.stateLocked().String()))
		return
	}

	if err := s.transition(eventGlare); err != nil {
		s.log.Error("не удалось перейти в ожидание после 491", Err(err))
		return
	}

	interval := s.glare.BackoffInterval(s.incoming, s.pendingOffer)
	s.metrics.GlareRetry()
	s.log.Debug("glare конфликт, повтор offer отложен",
		Duration("interval", interval), Bool("incoming", s.incoming))

	if s.glareTimer != nil {
		s.glareTimer.Stop()
	}
	s.glareTimer = time.AfterFunc(interval, s.onGlareTimer)
}

// onGlareTimer срабатывает по истечении интервала повтора. Если за это
// время удаленная сторона успела прислать собственный re-INVITE или
// сессия завершилась, повтор не выполняется.
func (s *Session) onGlareTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.glareTimer = nil
	if s.stateLocked() != StateReinvitePending {
		s.log.Debug("повтор offer отменен: состояние изменилось",
			String("state", s.stateLocked().String()))
		return
	}
	s.sendOfferLocked()
}
