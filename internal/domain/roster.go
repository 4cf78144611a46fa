package domain

// Roster — снимок состава комнаты, отсортированный по местам.
type Roster []Member

func (r Roster) RealCount() int {
	n := 0
	for _, m := range r {
		if !m.IsFiller() {
			n++
		}
	}
	return n
}

func (r Roster) ReadyRealCount() int {
	n := 0
	for _, m := range r {
		if !m.IsFiller() && m.IsReady {
			n++
		}
	}
	return n
}

// AllReady: count(real, ready) == count(real) и есть хотя бы один живой игрок.
// Филлеры считаются готовыми всегда.
func (r Roster) AllReady() bool {
	real := r.RealCount()
	return real >= 1 && r.ReadyRealCount() == real
}

// CheckStart — предусловия запуска матча. Самый важный инвариант движка:
// матч никогда не стартует без хотя бы одного живого готового игрока.
// Отсутствие живых игроков важнее недобора по числу мест.
func (r Roster) CheckStart() error {
	if r.RealCount() == 0 {
		return ErrNoRealPlayers
	}
	if len(r) < MinPlayers {
		return ErrTooFewPlayers
	}
	if !r.AllReady() {
		return ErrNotReady
	}
	return nil
}
