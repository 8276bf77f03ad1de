package space

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/annel0/voxel-core/internal/observability"
	"github.com/annel0/voxel-core/internal/raycast"
	"github.com/annel0/voxel-core/internal/vec"
)

// UnboundedBudget снимает ограничение на число пересчётов в Drain
const UnboundedBudget = -1

// ctxCheckInterval как часто Drain проверяет отмену контекста
const ctxCheckInterval = 256

// Drain пересчитывает свет не более чем budget ячеек из очереди и
// возвращает число оставшихся. Отрицательный budget означает обработку
// до опустошения очереди. Отмена ctx останавливает обработку между
// ячейками. Перед пересчётом палитра обновляется через RefreshBlocks.
func (s *Space) Drain(ctx context.Context, budget int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshLocked(ctx)
	if s.queue.len() == 0 || budget == 0 {
		return s.queue.len()
	}

	ctx, span := observability.Tracer().Start(ctx, "space.Drain")
	defer span.End()
	span.SetAttributes(
		attribute.String("space.id", s.id.String()),
		attribute.Int("light.budget", budget),
		attribute.Int("light.queue", s.queue.len()),
	)

	start := time.Now()
	processed, changed := 0, 0
	for budget < 0 || processed < budget {
		if processed%ctxCheckInterval == 0 && ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			break
		}
		idx, ok := s.queue.pop()
		if !ok {
			break
		}
		if s.updateCell(idx) {
			changed++
		}
		s.queue.settle(idx)
		processed++
	}
	elapsed := time.Since(start)

	remaining := s.queue.len()
	s.lightUpdates += uint64(processed)
	s.lightChanges += uint64(changed)
	span.SetAttributes(
		attribute.Int("light.processed", processed),
		attribute.Int("light.changed", changed),
		attribute.Int("light.remaining", remaining),
	)
	s.metrics.LightDrained(processed, changed, elapsed)
	s.metrics.SetSpaceGauges(s.id.String(), remaining, s.palette.live)
	s.logger.Debug("пространство %s: свет пересчитан для %d ячеек, изменено %d, в очереди %d (%v)",
		s.id, processed, changed, remaining, elapsed)
	return remaining
}

// updateCell пересчитывает ячейку и при изменении сохраняет значение.
// Соседи ставятся в очередь, только если изменилось то, что они видят:
// яркость или прямая видимость неба, от которой зависит столбец под ячейкой.
func (s *Space) updateCell(idx int) bool {
	cube := s.bounds.CubeAt(idx)
	value := s.computeLight(cube, idx)
	old := s.light[idx]
	eps := s.opts.Light.Epsilon
	if !value.differs(old, eps) {
		return false
	}
	s.light[idx] = value
	s.changes.recordLight(cube)
	if !value.propagates(old, eps) {
		return true
	}
	for _, f := range vec.Faces6 {
		n := cube.Add(f.Normal())
		if s.bounds.Contains(n) {
			s.queue.push(s.bounds.Index(n), priorityPropagate)
		}
	}
	return true
}

// computeLight вычисляет свет ячейки как поканальный максимум собственного
// излучения, света неба, ослабленного света прозрачных соседей и ослабленного
// излучения непрозрачных
func (s *Space) computeLight(cube vec.Vec3, idx int) PackedLight {
	ev := s.palette.entry(s.contents[idx]).evaluated
	if ev.IsOpaque() {
		return Blocked
	}

	phys := s.opts.Light
	value := ev.Emission
	sky := false
	if phys.SkyEnabled && s.skyExposed(cube) {
		value = value.Max(phys.SkyColor)
		sky = true
	}

	for _, f := range vec.Faces6 {
		n := cube.Add(f.Normal())
		var incoming vec.Rgb
		if s.bounds.Contains(n) {
			ni := s.bounds.Index(n)
			if nev := s.palette.entry(s.contents[ni]).evaluated; nev.IsOpaque() {
				// Непрозрачный сосед светит только собственным излучением
				if nev.Emission.IsZero() {
					continue
				}
				incoming = nev.Emission
			} else {
				nl := s.light[ni]
				if !nl.contributes() {
					continue
				}
				incoming = nl.Value()
			}
		} else {
			if !phys.SkyEnabled {
				continue
			}
			incoming = phys.SkyColor
		}
		value = value.Max(s.attenuate(incoming))
	}
	return PackLight(value.Clamp(0, MaxLight), sky)
}

// attenuate ослабляет свет на один шаг распространения
func (s *Space) attenuate(c vec.Rgb) vec.Rgb {
	phys := s.opts.Light
	return vec.NewRgb(
		max(c.R*phys.Falloff-phys.Decrement, 0),
		max(c.G*phys.Falloff-phys.Decrement, 0),
		max(c.B*phys.Falloff-phys.Decrement, 0),
	)
}

// skyExposed пускает луч из центра ячейки в сторону неба. Ячейка видит
// небо, если луч покинул пространство, не встретив непрозрачных блоков.
func (s *Space) skyExposed(cube vec.Vec3) bool {
	n := s.opts.Light.SkyDirection.Normal()
	rc, err := raycast.NewRaycaster(cube.Center(), mgl64.Vec3{float64(n.X), float64(n.Y), float64(n.Z)})
	if err != nil {
		return false
	}
	if d := s.opts.Light.MaxProbeDistance; d > 0 {
		rc.MaxDistance(d)
	}
	for step := range rc.All() {
		if step.Face == vec.Within {
			continue
		}
		if !s.bounds.Contains(step.Cube) {
			return true
		}
		if s.palette.entry(s.contents[s.bounds.Index(step.Cube)]).evaluated.IsOpaque() {
			return false
		}
	}
	return false
}
