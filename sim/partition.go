package sim

// minRowSeparation is the smallest distance between two rows processed in
// the same dispatch. A worker may touch the rows directly above and below
// its own, so rows closer than this would share a neighbour.
const minRowSeparation = 3

// WorkSizes is the partition plan for a grid.
type WorkSizes struct {
	Rows          int // grid height
	Requested     int // worker count asked for (0 = maximum)
	Max           int // largest safe worker count, floor(Rows/3)
	Effective     int // workers per dispatch
	RowsPerWorker int // dispatch turns per phase, ceil(Rows/Effective)
	LocalSize     int // worker-group size (0 = device default)
}

// Partition computes how many workers may run in one dispatch and how many
// turns each phase needs to cover every row. localSize, when positive,
// rounds the worker count down to a whole number of groups.
func Partition(rows, requested, localSize int) (WorkSizes, error) {
	const op = "partition"
	ws := WorkSizes{Rows: rows, Requested: requested, LocalSize: localSize}
	if requested < 0 {
		return ws, configErrorf(op, "requested worker count must not be negative, got %d", requested)
	}
	if localSize < 0 {
		return ws, configErrorf(op, "worker-group size must not be negative, got %d", localSize)
	}
	ws.Max = rows / minRowSeparation
	if ws.Max == 0 {
		return ws, configErrorf(op, "grid height %d leaves no safe parallel width (need at least %d rows)",
			rows, minRowSeparation)
	}
	ws.Effective = ws.Max
	if requested > 0 && requested < ws.Max {
		ws.Effective = requested
	}
	if localSize > 0 {
		if localSize > ws.Effective {
			return ws, configErrorf(op, "worker-group size %d exceeds worker count %d", localSize, ws.Effective)
		}
		ws.Effective -= ws.Effective % localSize
	}
	ws.RowsPerWorker = (rows + ws.Effective - 1) / ws.Effective
	return ws, nil
}

// Row returns the row worker processes on turn, and false when that worker
// has no row on this turn.
func (ws WorkSizes) Row(worker, turn int) (int, bool) {
	row, ok := WorkerRow(uint32(worker), uint32(turn), uint32(ws.RowsPerWorker), uint32(ws.Rows))
	return int(row), ok
}

// TurnRows lists the rows processed concurrently on turn.
func (ws WorkSizes) TurnRows(turn int) []int {
	rows := make([]int, 0, ws.Effective)
	for w := 0; w < ws.Effective; w++ {
		if r, ok := ws.Row(w, turn); ok {
			rows = append(rows, r)
		}
	}
	return rows
}

// WorkerRow is the row mapping shared by the host and the kernels: worker
// w owns the contiguous band [w*rowsPerWorker, (w+1)*rowsPerWorker) and
// walks it one row per turn. Concurrent rows are rowsPerWorker >= 3 apart.
func WorkerRow(worker, turn, rowsPerWorker, rows uint32) (uint32, bool) {
	if turn >= rowsPerWorker {
		return 0, false
	}
	row := worker*rowsPerWorker + turn
	return row, row < rows
}
