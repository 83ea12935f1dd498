package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var ErrNoChoice = errors.New("no valid variant chosen")

// ChooseVariant prompts on out and reads lines from in until a valid variant is entered.
// It gives up after maxAttempts invalid lines, or when in is exhausted.
func ChooseVariant(in io.Reader, out io.Writer, maxAttempts int) (Variant, error) {
	scanner := bufio.NewScanner(in)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprintln(out, "Choose KataGo version:")
		fmt.Fprintf(out, "1. %s\n", VariantGPU)
		fmt.Fprintf(out, "2. %s\n", VariantCPU)

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, fmt.Errorf("reading choice: %w", err)
			}
			return 0, fmt.Errorf("reading choice: %w", io.ErrUnexpectedEOF)
		}
		v, err := ParseVariant(scanner.Text())
		if err == nil {
			fmt.Fprintf(out, "Using %s KataGo version.\n", v)
			return v, nil
		}
		fmt.Fprintln(out, "Invalid choice. Please enter 1 or 2.")
	}
	return 0, fmt.Errorf("%w after %d attempts", ErrNoChoice, maxAttempts)
}
