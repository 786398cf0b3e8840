// Package script implements the DMX lighting script engine.
//
// A script is a line-oriented, case-insensitive text file describing channel
// assignments, fades and timed blocks. Running one is a three-stage pipeline:
//
//	┌────────────┐     ┌────────────┐     ┌────────────┐     ┌────────┐
//	│  Compiler  │────▶│     VM     │────▶│    CPU     │────▶│ Driver │
//	│ (text→VM)  │     │ (program + │     │ (run loop, │     │ (DMX   │
//	│            │     │ registers) │     │  timing)   │     │ frames)│
//	└────────────┘     └────────────┘     └────────────┘     └────────┘
//
// # Key Types
//
//   - Statement: one compiled instruction (closed Verb enum plus operands)
//   - VM: compiled program, symbol tables and the current/target registers
//   - Compiler: turns script files into a VM, failing fast on the first error
//   - CPU: interprets a VM on the caller's goroutine until the program ends,
//     a statement fails, or the context is cancelled
//
// # Ownership
//
// Every Compile call produces a fresh VM. A VM is owned by exactly one CPU for
// the duration of a run; nothing else may touch its registers while Run is in
// progress, so no locking is done on them.
//
// # Usage
//
//	vm, err := script.NewCompiler().Compile("scripts/evening.dmx")
//	if err != nil {
//	    var ce *script.CompileError
//	    if errors.As(err, &ce) {
//	        for _, msg := range ce.Messages() {
//	            log.Println(msg)
//	        }
//	    }
//	    return err
//	}
//
//	cpu := script.NewCPU(vm, drv)
//	err = cpu.Run(ctx) // blocks; cancel ctx to stop
package script
