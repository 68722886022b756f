// Package demo provides the sample tools served by the tool host.
package demo

import (
	"context"
	"math/rand/v2"

	"github.com/effective-security/toolchat/tools"
)

const (
	// RollDiceToolName is the name of the dice tool
	RollDiceToolName = "roll_dice"
	// AddToolName is the name of the addition tool
	AddToolName = "add"
)

// RollDiceRequest is the input of roll_dice.
type RollDiceRequest struct {
	NDice int `json:"n_dice" validate:"min=1,max=100" fake:"{number:1,6}" jsonschema:"description=Number of dice to roll,minimum=1,maximum=100"`
}

// AddRequest is the input of add.
type AddRequest struct {
	A int `json:"a" fake:"{number:1,100}" jsonschema:"description=First number"`
	B int `json:"b" fake:"{number:1,100}" jsonschema:"description=Second number"`
}

// RollDice returns n_dice values in [1,6].
func RollDice(_ context.Context, req *RollDiceRequest) ([]int, error) {
	res := make([]int, req.NDice)
	for i := range res {
		res[i] = rand.IntN(6) + 1
	}
	return res, nil
}

// Add returns a+b.
func Add(_ context.Context, req *AddRequest) (int, error) {
	return req.A + req.B, nil
}

// NewRollDice returns the roll_dice tool.
func NewRollDice() *tools.Func[RollDiceRequest, []int] {
	return tools.MustFunc(RollDiceToolName, "Roll `n_dice` 6-sided dice and return the results.", RollDice)
}

// NewAdd returns the add tool.
func NewAdd() *tools.Func[AddRequest, int] {
	return tools.MustFunc(AddToolName, "Add two numbers.", Add)
}

// Tools returns all demo tools.
func Tools() []tools.ITool {
	return []tools.ITool{NewRollDice(), NewAdd()}
}
