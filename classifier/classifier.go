// Package classifier decides whether a turn needs tools.
//
// Common chit-chat (greetings, thanks, farewells, acknowledgements) is
// recognised by anchored patterns and answered without a provider call.
// Everything else is delegated to one Provider.Classify call. The outcome is
// always one of the known classifications: provider failures degrade to
// simple chat with an apologetic reply.
package classifier

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/model"
)

// DefaultTimeout bounds the provider call.
const DefaultTimeout = 15 * time.Second

// DegradedReply is sent when the provider could not classify the message.
const DegradedReply = "抱歉，我暂时无法处理您的请求，请稍后再试。"

// Decision is the classifier's verdict.
type Decision struct {
	Classification core.Classification
	// FirstCall is the provider's tool call for round 0, if any.
	FirstCall *core.ProposedCall
	// Reply is a ready answer: the canned fast-path reply, a reply produced
	// while classifying, or the degraded apology.
	Reply string
	// Degraded is set when the provider failed.
	Degraded bool
	// FastPath is set when no provider was consulted.
	FastPath bool
	// Err is the provider failure behind a degraded decision.
	Err error
}

type pattern struct {
	re    *regexp.Regexp
	reply string
}

// fastPath patterns match whole utterances only, ignoring case, surrounding
// whitespace and trailing punctuation.
var fastPath = []pattern{
	{regexp.MustCompile(`(?i)^(你好|您好|嗨|哈喽|hi|hello|hey|早上好|上午好|中午好|下午好|晚上好|早安|晚安|good (morning|afternoon|evening))(呀|啊|哦)?$`), "您好！我是幼儿园管理助手，请问有什么可以帮您？"},
	{regexp.MustCompile(`(?i)^(谢谢|谢谢你|谢谢您|多谢|感谢|非常感谢|thanks|thank you|thx)(啦|了|呀)?$`), "不客气，有需要随时找我。"},
	{regexp.MustCompile(`(?i)^(再见|拜拜|回头见|bye|goodbye|see you)(啦|了)?$`), "再见，祝您工作顺利！"},
	{regexp.MustCompile(`(?i)^(好的|好|嗯|嗯嗯|哦|噢|行|可以|收到|明白|知道了|ok|okay|哈哈|哈哈哈|👍)$`), "好的，还有其他需要帮忙的吗？"},
}

var trailing = regexp.MustCompile(`[\s!！。.,，~～?？…]+$`)

// MatchFastPath returns the canned reply when message is chit-chat.
func MatchFastPath(message string) (string, bool) {
	m := trailing.ReplaceAllString(strings.TrimSpace(message), "")
	if m == "" {
		return "", false
	}
	for _, p := range fastPath {
		if p.re.MatchString(m) {
			return p.reply, true
		}
	}
	return "", false
}

// Options configure a Classifier.
type Options struct {
	Timeout time.Duration
	Logger  logging.Logger
}

// Classifier classifies turns.
type Classifier struct {
	opts Options
}

// New creates a classifier.
func New(optFns ...func(o *Options)) *Classifier {
	opts := Options{Timeout: DefaultTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Classifier{opts: opts}
}

// Classify decides the classification of prompt.UserMessage. Cancellation of
// ctx is returned as an error; every other outcome is a Decision.
func (c *Classifier) Classify(ctx context.Context, provider model.Provider, prompt model.Prompt) (Decision, error) {
	if reply, ok := MatchFastPath(prompt.UserMessage); ok {
		return Decision{Classification: core.ClassificationSimpleChat, Reply: reply, FastPath: true}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	res, err := c.call(cctx, provider, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		c.opts.Logger.Warn("classifier.provider.failed", "provider", provider.Info().Provider, "error", err)
		return Decision{Classification: core.ClassificationSimpleChat, Reply: DegradedReply, Degraded: true, Err: err}, nil
	}

	d := Decision{Classification: res.Classification, FirstCall: res.FirstCall, Reply: res.Reply}
	if !d.Classification.Valid() {
		d.Classification = core.ClassificationAmbiguous
	}
	if d.Classification != core.ClassificationToolRequired {
		d.FirstCall = nil
	}
	return d, nil
}

// call runs Classify in its own goroutine so a provider that ignores its
// context still cannot hang the turn.
func (c *Classifier) call(ctx context.Context, provider model.Provider, prompt model.Prompt) (res model.ClassifyResult, err error) {
	type result struct {
		res model.ClassifyResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.New("provider panicked during classification")}
			}
		}()
		r, err := provider.Classify(ctx, prompt)
		done <- result{res: r, err: err}
	}()
	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return model.ClassifyResult{}, ctx.Err()
	}
}
