// Package agentloop drives a structured-output call to completion while the
// model requests tools.
//
// A Loop sends the accumulated input through an llm.TurnRunner. Responses
// carrying function calls are executed sequentially through a Registry, and
// each call and its output are appended to the input and handed to the
// call's Sink in order. A response without function calls ends the loop; its
// text must be a JSON object.
//
// Reads through get_file_contents are not echoed back. The file is promoted
// to full text inside the system state snapshot at the head of the input,
// and the model receives a short status object instead.
//
// # Tools
//
// Tools are explicit descriptors registered at construction:
//
//	reg, err := agentloop.NewCoreRegistry(workspace, prompter)
//	loop := agentloop.NewLoop(driver, reg, agentloop.WithPromoter(stateStore))
//	answer, err := loop.Run(ctx, agentloop.Call{Input: items, Schema: schema, Sink: sink})
//
// Every tool schema accepts an optional reason_for_call argument that the
// dispatcher strips before invoking the handler.
package agentloop
