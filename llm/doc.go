// Package llm talks to the OpenAI Responses API with strict structured
// outputs.
//
// # Architecture
//
//   - Item: the transcript record union shared by every layer
//   - StrictSchema and SchemaFor: output-shape preparation
//   - Driver: payload construction, retries, response normalization
//   - RetryPolicy and Retry: a fixed backoff schedule with jitter
//
// # Quick Start
//
//	d, _ := llm.NewDriver(os.Getenv("OPENAI_API_KEY"), os.Getenv("AI_MODEL"))
//	schema, _ := llm.SchemaFor[Answer]()
//	res, err := d.Turn(ctx, llm.TurnRequest{
//	    Input:  []llm.Item{llm.UserMessage("Hello")},
//	    Schema: schema,
//	    Class:  llm.CallConversation,
//	})
//	answer, err := llm.DecodeObject[Answer](res.Text())
//
// # Errors
//
// 5xx responses and timeouts are retried up to three attempts in total and
// then surface as *RetriesExhaustedError. A 4xx response returns a
// *ClientRequestError immediately.
package llm
