// cmd_decode.go - Decode Command
// Fuehrt Decode-Schritte auf einem synthetischen Modell aus und gibt
// Text und Zeitmessung aus. Dient als Rauchtest fuer Scheduler,
// Backends und Decoder ohne echte Modelldatei.
package cmd

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/lovemefan/sensevoice-go/envconfig"
	"github.com/lovemefan/sensevoice-go/format"
	"github.com/lovemefan/sensevoice-go/ml"
	"github.com/lovemefan/sensevoice-go/ml/backend/blas"
	"github.com/lovemefan/sensevoice-go/model"
	"github.com/lovemefan/sensevoice-go/model/sensevoice"
)

// newDecodeCmd - Erstellt den decode Command
func newDecodeCmd() *cobra.Command {
	var (
		hidden  int
		vocab   int
		frames  int
		steps   int
		threads int
		seed    int64
		padded  bool
		useBlas bool
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Run CTC decode steps on a synthetic model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if threads <= 0 {
				threads = int(envconfig.NumThreads())
			}

			rng := rand.New(rand.NewSource(seed))

			tokens := make([]string, vocab)
			tokens[0] = "<blank>"
			for i := 1; i < vocab; i++ {
				tokens[i] = fmt.Sprintf("<%d>", i)
			}

			weight := make([]float32, hidden*vocab)
			for i := range weight {
				weight[i] = rng.Float32()*2 - 1
			}
			bias := make([]float32, vocab)
			for i := range bias {
				bias[i] = rng.Float32()*2 - 1
			}

			var devices []ml.Backend
			if useBlas {
				devices = append(devices, blas.New())
			}

			sched, err := ml.NewScheduler("cpu", ml.SchedulerParams{
				ArenaSize: sensevoice.GraphArenaSize(sensevoice.Options{HiddenSize: hidden, VocabSize: vocab}, frames),
				Devices:   devices,
			})
			if err != nil {
				return err
			}

			paramCtx := sched.NewContext(0)
			m, err := sensevoice.New(paramCtx, model.NewVocabulary(tokens), weight, bias, sensevoice.Options{
				HiddenSize:      hidden,
				VocabSize:       vocab,
				UsePaddedMatmul: padded,
			})
			if err != nil {
				return err
			}

			session, err := sensevoice.NewSession(m, frames, sensevoice.WithScheduler(sched))
			if err != nil {
				return err
			}

			for step := range steps {
				enc := make([]float32, hidden*frames)
				for i := range enc {
					enc[i] = rng.Float32()*2 - 1
				}

				if err := session.SetEncoderOutput(enc, frames); err != nil {
					return err
				}
				if err := session.Decode(m, threads); err != nil {
					return err
				}

				fmt.Printf("step %d: %s\n", step, session.Text())
			}

			fmt.Printf("total decode time: %s\n", format.Microseconds(session.TotalDecodeTime()))
			return nil
		},
	}

	cmd.Flags().IntVar(&hidden, "hidden", 512, "Encoder feature dimension")
	cmd.Flags().IntVar(&vocab, "vocab", 256, "Vocabulary size including blank")
	cmd.Flags().IntVar(&frames, "frames", 64, "Frames per decode step")
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of decode steps")
	cmd.Flags().IntVar(&threads, "threads", 0, "Worker threads per call (0 = SENSEVOICE_NUM_THREADS)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for the synthetic model")
	cmd.Flags().BoolVar(&padded, "padded-matmul", false, "Use the padded matmul strategy")
	cmd.Flags().BoolVar(&useBlas, "blas", false, "Register the BLAS backend")

	return cmd
}
