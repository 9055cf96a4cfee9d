// Package awstest is an in-memory AWS control plane for tests. It implements
// the narrow client interfaces of providers/aws with the same not-found and
// conflict errors the real services return.
package awstest

import (
	"sort"
	"strings"
	"sync"

	"github.com/ride-compare/rideops/providers/aws"
)

// backend is the state shared by every fake service of a Cloud.
type backend struct {
	mu      sync.Mutex
	region  string
	account string
	seq     int
	calls   map[string]int
	faults  map[string][]error
}

// hit records a call to op and returns the next injected fault, if any.
// The caller must hold mu.
func (b *backend) hit(op string) error {
	b.calls[op]++
	if q := b.faults[op]; len(q) > 0 {
		b.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (b *backend) nextID() int {
	b.seq++
	return b.seq
}

// Cloud bundles fakes of every service the provider talks to.
type Cloud struct {
	*backend

	Lambda      *Lambda
	EventBridge *EventBridge
	APIGateway  *APIGateway
	Logs        *Logs
	IAM         *IAM
	SQS         *SQS
	S3          *S3
	STS         *STS

	SecretsManager *SecretsManager
	DynamoDB       *DynamoDB
}

// New returns an empty control plane for the account in region.
func New(region, account string) *Cloud {
	b := &backend{
		region:  region,
		account: account,
		calls:   make(map[string]int),
		faults:  make(map[string][]error),
	}
	return &Cloud{
		backend:     b,
		Lambda:      newLambda(b),
		EventBridge: newEventBridge(b),
		APIGateway:  newAPIGateway(b),
		Logs:        &Logs{backend: b, groups: make(map[string]*int32)},
		IAM:         &IAM{backend: b, roles: make(map[string]string)},
		SQS:         &SQS{backend: b, queues: make(map[string]string)},
		S3:          &S3{backend: b, buckets: make(map[string]bool), Objects: make(map[string][]byte)},
		STS:         &STS{backend: b},

		SecretsManager: &SecretsManager{backend: b, secrets: make(map[string]string)},
		DynamoDB:       &DynamoDB{backend: b, tables: make(map[string]*table)},
	}
}

// Clients returns the fakes as provider clients.
func (c *Cloud) Clients() *aws.Clients {
	return &aws.Clients{
		Lambda:      c.Lambda,
		EventBridge: c.EventBridge,
		APIGateway:  c.APIGateway,
		Logs:        c.Logs,
		IAM:         c.IAM,
		SQS:         c.SQS,
		S3:          c.S3,
		STS:         c.STS,

		SecretsManager: c.SecretsManager,
		DynamoDB:       c.DynamoDB,
	}
}

// Calls returns how many times op was called.
func (c *Cloud) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Fail makes the next len(errs) calls to op return errs in order.
func (c *Cloud) Fail(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = append(c.faults[op], errs...)
}

var mutatingPrefixes = []string{"Create", "Update", "Put", "Add", "Remove", "Delete"}

// Mutations returns the sorted names of every mutating operation called so far.
func (c *Cloud) Mutations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ops []string
	for op, n := range c.calls {
		if n == 0 {
			continue
		}
		for _, prefix := range mutatingPrefixes {
			if strings.HasPrefix(op, prefix) {
				ops = append(ops, op)
				break
			}
		}
	}
	sort.Strings(ops)
	return ops
}

// ResetCalls clears the call counters.
func (c *Cloud) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[string]int)
}

// Seed creates the prerequisites a deploy expects: the role, the queue and the bucket.
func (c *Cloud) Seed(role, queueName, bucket string) (roleARN, queueURL string) {
	c.S3.AddBucket(bucket)
	return c.IAM.AddRole(role), c.SQS.AddQueue(queueName)
}
