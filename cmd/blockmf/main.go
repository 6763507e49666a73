// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gorse-io/blockmf/base/log"
	"github.com/gorse-io/blockmf/mf"
	"github.com/gorse-io/blockmf/model"
)

var rootCommand = &cobra.Command{
	Use:   "blockmf",
	Short: "Block-parallel SGD matrix factorization.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.Root().PersistentFlags(), debug)
	},
}

var trainCommand = &cobra.Command{
	Use:   "train TRAIN_FILE MODEL_FILE",
	Short: "Train a model from whitespace separated (user, item, rating) triples.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		prob, err := loadProblem(args[0])
		if err != nil {
			log.Logger().Fatal("failed to load training data", zap.Error(err))
		}
		params := paramsFromFlags(cmd)
		var m *mf.Model
		if validationPath, _ := cmd.Flags().GetString("validation"); validationPath != "" {
			va, err := loadProblem(validationPath)
			if err != nil {
				log.Logger().Fatal("failed to load validation data", zap.Error(err))
			}
			m, err = mf.TrainWithValidation(prob, va, params)
			if err != nil {
				log.Logger().Fatal("failed to train model", zap.Error(err))
			}
		} else {
			m, err = mf.Train(prob, params)
			if err != nil {
				log.Logger().Fatal("failed to train model", zap.Error(err))
			}
		}
		if err := mf.SaveModel(m, args[1]); err != nil {
			log.Logger().Fatal("failed to save model", zap.Error(err))
		}
		log.Logger().Info("model saved", zap.String("path", args[1]))
	},
}

var predictCommand = &cobra.Command{
	Use:   "predict MODEL_FILE USER ITEM",
	Short: "Predict the rating of an item by a user.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := mf.LoadModel(args[0])
		if err != nil {
			log.Logger().Fatal("failed to load model", zap.Error(err))
		}
		u, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			log.Logger().Fatal("invalid user index", zap.Error(err))
		}
		v, err := strconv.ParseInt(args[2], 10, 32)
		if err != nil {
			log.Logger().Fatal("invalid item index", zap.Error(err))
		}
		fmt.Println(m.Predict(int32(u), int32(v)))
	},
}

var cvCommand = &cobra.Command{
	Use:   "cv TRAIN_FILE",
	Short: "Estimate the RMSE by k-fold cross-validation over the block grid.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prob, err := loadProblem(args[0])
		if err != nil {
			log.Logger().Fatal("failed to load training data", zap.Error(err))
		}
		folds, _ := cmd.Flags().GetInt("folds")
		rmse, err := mf.CrossValidate(prob, folds, paramsFromFlags(cmd))
		if err != nil {
			log.Logger().Fatal("cross validation failed", zap.Error(err))
		}
		fmt.Printf("rmse = %.4f\n", rmse)
	},
}

func init() {
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(rootCommand.PersistentFlags())
	for _, cmd := range []*cobra.Command{trainCommand, cvCommand} {
		cmd.Flags().Int("factors", 8, "number of latent factors")
		cmd.Flags().Int("epochs", 20, "number of training epochs")
		cmd.Flags().Int("jobs", 1, "number of concurrent workers")
		cmd.Flags().Int("bins", 20, "minimum side of the block grid")
		cmd.Flags().Float32("lr", 0.1, "base learning rate")
		cmd.Flags().Float32("reg", 0.1, "regularization strength")
		cmd.Flags().Float32("alpha", 40, "implicit-feedback confidence slope")
		cmd.Flags().Bool("nmf", false, "clamp factors at zero")
		cmd.Flags().Bool("implicit", false, "use the implicit-feedback loss")
		cmd.Flags().Bool("quiet", false, "suppress per-epoch reporting")
		cmd.Flags().Int64("seed", 0, "random seed")
	}
	trainCommand.Flags().String("validation", "", "validation data file")
	cvCommand.Flags().Int("folds", 5, "number of cross-validation folds")
	rootCommand.AddCommand(trainCommand, predictCommand, cvCommand)
}

func paramsFromFlags(cmd *cobra.Command) model.Params {
	factors, _ := cmd.Flags().GetInt("factors")
	epochs, _ := cmd.Flags().GetInt("epochs")
	jobs, _ := cmd.Flags().GetInt("jobs")
	bins, _ := cmd.Flags().GetInt("bins")
	lr, _ := cmd.Flags().GetFloat32("lr")
	reg, _ := cmd.Flags().GetFloat32("reg")
	alpha, _ := cmd.Flags().GetFloat32("alpha")
	nmf, _ := cmd.Flags().GetBool("nmf")
	implicit, _ := cmd.Flags().GetBool("implicit")
	quiet, _ := cmd.Flags().GetBool("quiet")
	seed, _ := cmd.Flags().GetInt64("seed")
	return model.Params{
		model.NFactors:    factors,
		model.NEpochs:     epochs,
		model.NJobs:       jobs,
		model.NBins:       bins,
		model.Lr:          lr,
		model.Reg:         reg,
		model.Alpha:       alpha,
		model.NMF:         nmf,
		model.Implicit:    implicit,
		model.Quiet:       quiet,
		model.RandomState: seed,
		// the loaded problem is private to this process
		model.CopyData: false,
	}
}

// loadProblem reads whitespace separated (user, item, rating) triples. The
// matrix size is the smallest that contains every index.
func loadProblem(path string) (*mf.Problem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pbReader := progressbar.NewReader(f, progressbar.DefaultBytes(stat.Size(), "load "+path))
	prob := new(mf.Problem)
	scanner := bufio.NewScanner(&pbReader)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		splits := strings.Fields(text)
		if len(splits) < 3 {
			return nil, errors.NotValidf("line %d: %q", line, text)
		}
		u, err := strconv.ParseInt(splits[0], 10, 32)
		if err != nil {
			return nil, errors.Trace(err)
		}
		v, err := strconv.ParseInt(splits[1], 10, 32)
		if err != nil {
			return nil, errors.Trace(err)
		}
		r, err := strconv.ParseFloat(splits[2], 32)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if u < 0 || v < 0 {
			return nil, errors.NotValidf("line %d: negative index", line)
		}
		if int32(u) >= prob.M {
			prob.M = int32(u) + 1
		}
		if int32(v) >= prob.N {
			prob.N = int32(v) + 1
		}
		prob.R = append(prob.R, mf.Node{U: int32(u), V: int32(v), R: float32(r)})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return prob, nil
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
